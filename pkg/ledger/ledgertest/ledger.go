// Package ledgertest provides an in-memory ledger.Client for tests and the
// local devnet mode.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/noteswap/pkg/ledger"
)

// Ledger is an in-memory ledger. It records how many calls were in flight at
// once so tests can assert that access was serialized.
type Ledger struct {
	mu         sync.Mutex
	accounts   map[ledger.AccountID]*ledger.Account
	consumable map[ledger.AccountID][]ledger.ConsumableNote
	submitted  []*ledger.SignedTransaction
	blockNum   uint64

	// Delay is slept inside every call, widening any race window.
	Delay time.Duration
	// SubmitErr, when set, is returned by SubmitTransaction.
	SubmitErr error
	// SyncErr, when set, is returned by SyncState.
	SyncErr error

	syncCalls    atomic.Int64
	compileCalls atomic.Int64
	inflight     atomic.Int64
	maxInflight  atomic.Int64
}

func New() *Ledger {
	return &Ledger{
		accounts:   make(map[ledger.AccountID]*ledger.Account),
		consumable: make(map[ledger.AccountID][]ledger.ConsumableNote),
	}
}

func (l *Ledger) enter() func() {
	n := l.inflight.Add(1)
	for {
		max := l.maxInflight.Load()
		if n <= max || l.maxInflight.CompareAndSwap(max, n) {
			break
		}
	}
	if l.Delay > 0 {
		time.Sleep(l.Delay)
	}
	return func() { l.inflight.Add(-1) }
}

// ==============================
// ledger.Client
// ==============================

func (l *Ledger) SyncState(ctx context.Context) (ledger.SyncSummary, error) {
	defer l.enter()()
	l.syncCalls.Add(1)
	if l.SyncErr != nil {
		return ledger.SyncSummary{}, l.SyncErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockNum++
	return ledger.SyncSummary{BlockNum: l.blockNum, UpdatedAccounts: len(l.accounts)}, nil
}

func (l *Ledger) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	defer l.enter()()
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *acc
	cp.Vault = append([]ledger.FungibleAsset(nil), acc.Vault...)
	cp.Storage = append([]ledger.StorageMapEntry(nil), acc.Storage...)
	return &cp, nil
}

func (l *Ledger) ImportAccount(ctx context.Context, id ledger.AccountID) error {
	defer l.enter()()
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.accounts[id]; !ok {
		l.accounts[id] = &ledger.Account{ID: id}
	}
	return nil
}

func (l *Ledger) GetConsumableNotes(ctx context.Context, id ledger.AccountID) ([]ledger.ConsumableNote, error) {
	defer l.enter()()
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.ConsumableNote(nil), l.consumable[id]...), nil
}

func (l *Ledger) CompileNoteScript(ctx context.Context, src ledger.ScriptSource, libs ...ledger.ScriptSource) (ledger.NoteScript, error) {
	defer l.enter()()
	l.compileCalls.Add(1)
	if src.Source == "" {
		return ledger.NoteScript{}, errors.New("empty script source")
	}
	h := sha3.NewLegacyKeccak256()
	for _, lib := range libs {
		h.Write([]byte(lib.Name))
		h.Write([]byte(lib.Source))
	}
	h.Write([]byte(src.Source))
	var root ledger.Digest
	copy(root[:], h.Sum(nil))
	return ledger.NoteScript{Root: root, Code: []byte(src.Source)}, nil
}

func (l *Ledger) SubmitTransaction(ctx context.Context, tx *ledger.SignedTransaction) (string, error) {
	defer l.enter()()
	if l.SubmitErr != nil {
		return "", l.SubmitErr
	}
	if err := tx.Request.Validate(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(tx.Request.InputNoteIDs) > 0 {
		l.consumeLocked(tx.Request.Account, tx.Request.InputNoteIDs)
	}
	l.submitted = append(l.submitted, tx)
	return fmt.Sprintf("tx-%d-%s", len(l.submitted), tx.Request.Digest().String()[2:10]), nil
}

// consumeLocked moves consumed note assets into the account vault.
func (l *Ledger) consumeLocked(id ledger.AccountID, ids []ledger.NoteID) {
	want := make(map[ledger.NoteID]bool, len(ids))
	for _, nid := range ids {
		want[nid] = true
	}
	acc, ok := l.accounts[id]
	if !ok {
		acc = &ledger.Account{ID: id}
		l.accounts[id] = acc
	}
	var kept []ledger.ConsumableNote
	for _, n := range l.consumable[id] {
		if !want[n.ID] {
			kept = append(kept, n)
			continue
		}
		acc.Vault = append(acc.Vault, n.Assets...)
	}
	l.consumable[id] = kept
	acc.Nonce++
}

// ==============================
// Test controls
// ==============================

// SetAccount replaces the stored state of an account.
func (l *Ledger) SetAccount(acc *ledger.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := *acc
	l.accounts[acc.ID] = &cp
}

// AddConsumable makes a note claimable by id.
func (l *Ledger) AddConsumable(id ledger.AccountID, notes ...ledger.ConsumableNote) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consumable[id] = append(l.consumable[id], notes...)
}

func (l *Ledger) Submitted() []*ledger.SignedTransaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*ledger.SignedTransaction(nil), l.submitted...)
}

func (l *Ledger) SyncCalls() int64    { return l.syncCalls.Load() }
func (l *Ledger) CompileCalls() int64 { return l.compileCalls.Load() }

// MaxInflight is the largest number of calls observed running at the same time.
func (l *Ledger) MaxInflight() int64 { return l.maxInflight.Load() }

var _ ledger.Client = (*Ledger)(nil)
