// Package session owns the process-wide ledger access state: the exclusive
// gate around the single ledger client, the sync throttle and the identity of
// the acting account. Everything that must be forgotten on an account change
// registers a reset hook here.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/util"
)

// LPSlot is the pool storage map slot holding liquidity-provider shares,
// keyed by [user.suffix, user.prefix, faucet.suffix, faucet.prefix].
const LPSlot uint8 = 5

var ErrNoSession = errors.New("no active session")

// ResetHook is called when the session ends or switches accounts.
type ResetHook func()

type Session struct {
	handle *Handle
	sync   *ThrottledSync
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	id      string
	account ledger.AccountID
	pool    ledger.AccountID
	active  bool
	hooks   []ResetHook
}

func New(handle *Handle, throttle *ThrottledSync, logger *zap.SugaredLogger) *Session {
	if handle == nil {
		handle = NewHandle()
	}
	if throttle == nil {
		throttle = NewThrottledSync(DefaultSyncWindow, nil, logger, nil)
	}
	return &Session{handle: handle, sync: throttle, logger: util.OrNop(logger).With("component", "session")}
}

func (s *Session) Handle() *Handle          { return s.handle }
func (s *Session) Throttle() *ThrottledSync { return s.sync }

// OnReset registers h to run on End and SwitchAccount.
func (s *Session) OnReset(h ResetHook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
}

// ID is a fresh uuid per started session, empty when inactive.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *Session) Account() ledger.AccountID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

func (s *Session) Pool() ledger.AccountID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pool
}

func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Start installs client for account and imports the account and the pool
// into the local ledger view.
func (s *Session) Start(ctx context.Context, account, pool ledger.AccountID, client ledger.Client) error {
	if account.IsZero() || pool.IsZero() {
		return fmt.Errorf("session: zero account or pool id")
	}
	if client == nil {
		return ErrClientUnavailable
	}
	s.handle.Install(client)
	err := s.handle.Do(ctx, func(ctx context.Context, c ledger.Client) error {
		if err := c.ImportAccount(ctx, account); err != nil {
			return fmt.Errorf("import account: %w", err)
		}
		if err := c.ImportAccount(ctx, pool); err != nil {
			return fmt.Errorf("import pool: %w", err)
		}
		return nil
	})
	if err != nil {
		s.handle.Reset()
		return err
	}

	s.mu.Lock()
	s.id = uuid.NewString()
	s.account = account
	s.pool = pool
	s.active = true
	id := s.id
	s.mu.Unlock()

	s.logger.Infow("session_started", "session_id", id, "account", account, "pool", pool)
	return nil
}

// SwitchAccount ends the current session and starts a new one for account.
func (s *Session) SwitchAccount(ctx context.Context, account ledger.AccountID, client ledger.Client) error {
	pool := s.Pool()
	s.End()
	return s.Start(ctx, account, pool, client)
}

// End uninstalls the client, forgets the throttle timestamp and runs every reset hook.
func (s *Session) End() {
	s.mu.Lock()
	wasActive := s.active
	id := s.id
	s.active = false
	s.id = ""
	s.account = ledger.AccountID{}
	hooks := append([]ResetHook(nil), s.hooks...)
	s.mu.Unlock()

	s.handle.Reset()
	s.sync.Reset()
	for _, h := range hooks {
		h()
	}
	if wasActive {
		s.logger.Infow("session_ended", "session_id", id)
	}
}

// ==============================
// Gated client helpers
// ==============================

// SyncState syncs if the throttle window allows it.
func (s *Session) SyncState(ctx context.Context) (bool, error) {
	return Exclusive(ctx, s.handle, func(ctx context.Context, c ledger.Client) (bool, error) {
		return s.sync.SyncIfDue(ctx, c)
	})
}

// GetAccount returns the freshly synced state of id, nil if it is not tracked.
func (s *Session) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return Exclusive(ctx, s.handle, func(ctx context.Context, c ledger.Client) (*ledger.Account, error) {
		if _, err := s.sync.SyncIfDue(ctx, c); err != nil {
			return nil, err
		}
		return c.GetAccount(ctx, id)
	})
}

// Balance returns the acting account's vault balance of faucet.
func (s *Session) Balance(ctx context.Context, faucet ledger.AccountID) (uint64, error) {
	account := s.Account()
	if account.IsZero() {
		return 0, ErrNoSession
	}
	acc, err := s.GetAccount(ctx, account)
	if err != nil {
		return 0, err
	}
	return acc.Balance(faucet), nil
}

// ConsumableNotes lists notes the acting account can consume after a throttled sync.
func (s *Session) ConsumableNotes(ctx context.Context) ([]ledger.ConsumableNote, error) {
	account := s.Account()
	if account.IsZero() {
		return nil, ErrNoSession
	}
	return Exclusive(ctx, s.handle, func(ctx context.Context, c ledger.Client) ([]ledger.ConsumableNote, error) {
		if _, err := s.sync.SyncIfDue(ctx, c); err != nil {
			return nil, err
		}
		return c.GetConsumableNotes(ctx, account)
	})
}

// LPKey is the storage map key of user's shares in the pool of faucet.
func LPKey(user, faucet ledger.AccountID) ledger.Word {
	return ledger.Word{user.Suffix, user.Prefix, faucet.Suffix, faucet.Prefix}
}

// LPBalances reads the acting account's liquidity shares for each faucet from
// the pool account's storage. Missing entries are zero.
func (s *Session) LPBalances(ctx context.Context, faucets ...ledger.AccountID) (map[ledger.AccountID]uint64, error) {
	account, pool := s.Account(), s.Pool()
	if account.IsZero() {
		return nil, ErrNoSession
	}
	acc, err := s.GetAccount(ctx, pool)
	if err != nil {
		return nil, err
	}
	out := make(map[ledger.AccountID]uint64, len(faucets))
	for _, f := range faucets {
		v, _ := acc.MapItem(LPSlot, LPKey(account, f))
		out[f] = v[0].Uint64()
	}
	return out, nil
}

func (s *Session) LPBalance(ctx context.Context, faucet ledger.AccountID) (uint64, error) {
	m, err := s.LPBalances(ctx, faucet)
	if err != nil {
		return 0, err
	}
	return m[faucet], nil
}

// CompileNoteScript compiles through the gate. It lets the note compiler use
// the ledger client without holding it.
func (s *Session) CompileNoteScript(ctx context.Context, src ledger.ScriptSource, libs ...ledger.ScriptSource) (ledger.NoteScript, error) {
	return Exclusive(ctx, s.handle, func(ctx context.Context, c ledger.Client) (ledger.NoteScript, error) {
		return c.CompileNoteScript(ctx, src, libs...)
	})
}
