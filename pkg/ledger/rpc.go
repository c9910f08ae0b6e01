package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

var ErrAccountNotFound = errors.New("account not found")

// Cache is the persistent local ledger view kept by RPCClient.
type Cache interface {
	SaveAccount(acc *Account) error
	LoadAccount(id AccountID) (*Account, error)
	SaveConsumable(id AccountID, notes []ConsumableNote) error
	LoadConsumable(id AccountID) ([]ConsumableNote, error)
	SaveSyncHeight(h uint64) error
	LoadSyncHeight() (uint64, error)
	Track(id AccountID) error
	TrackedAccounts() ([]AccountID, error)
}

// RPCClient talks to a ledger gateway over HTTP and serves reads from its local cache.
// Like every Client it must only be used from inside session.Handle.
type RPCClient struct {
	endpoint string
	http     *http.Client
	cache    Cache
	logger   *zap.SugaredLogger
}

func NewRPCClient(endpoint string, cache Cache, logger *zap.SugaredLogger) *RPCClient {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RPCClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		cache:    cache,
		logger:   logger,
	}
}

// ==============================
// Gateway wire types
// ==============================

type syncRequest struct {
	BlockNum   uint64      `json:"block_num"`
	AccountIDs []AccountID `json:"account_ids"`
}

type consumableSet struct {
	AccountID AccountID        `json:"account_id"`
	Notes     []ConsumableNote `json:"notes"`
}

type syncResponse struct {
	BlockNum   uint64          `json:"block_num"`
	Accounts   []Account       `json:"accounts"`
	Consumable []consumableSet `json:"consumable"`
}

type compileRequest struct {
	Script    ScriptSource   `json:"script"`
	Libraries []ScriptSource `json:"libraries"`
}

type submitResponse struct {
	TransactionID string `json:"transaction_id"`
}

// ==============================
// Client implementation
// ==============================

func (c *RPCClient) SyncState(ctx context.Context) (SyncSummary, error) {
	height, err := c.cache.LoadSyncHeight()
	if err != nil {
		return SyncSummary{}, fmt.Errorf("load sync height: %w", err)
	}
	tracked, err := c.cache.TrackedAccounts()
	if err != nil {
		return SyncSummary{}, fmt.Errorf("load tracked accounts: %w", err)
	}

	var resp syncResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sync", syncRequest{BlockNum: height, AccountIDs: tracked}, &resp); err != nil {
		return SyncSummary{}, err
	}

	summary := SyncSummary{BlockNum: resp.BlockNum}
	for i := range resp.Accounts {
		if err := c.cache.SaveAccount(&resp.Accounts[i]); err != nil {
			return SyncSummary{}, fmt.Errorf("cache account: %w", err)
		}
		summary.UpdatedAccounts++
	}
	for _, set := range resp.Consumable {
		if err := c.cache.SaveConsumable(set.AccountID, set.Notes); err != nil {
			return SyncSummary{}, fmt.Errorf("cache consumable notes: %w", err)
		}
		summary.NewNotes += len(set.Notes)
	}
	if err := c.cache.SaveSyncHeight(resp.BlockNum); err != nil {
		return SyncSummary{}, fmt.Errorf("save sync height: %w", err)
	}

	c.logger.Debugw("ledger_synced", "block_num", resp.BlockNum, "accounts", summary.UpdatedAccounts)
	return summary, nil
}

func (c *RPCClient) GetAccount(ctx context.Context, id AccountID) (*Account, error) {
	return c.cache.LoadAccount(id)
}

func (c *RPCClient) ImportAccount(ctx context.Context, id AccountID) error {
	existing, err := c.cache.LoadAccount(id)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	var acc Account
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+id.String(), nil, &acc); err != nil {
		return fmt.Errorf("import account %s: %w", id, err)
	}
	if err := c.cache.Track(id); err != nil {
		return err
	}
	return c.cache.SaveAccount(&acc)
}

func (c *RPCClient) GetConsumableNotes(ctx context.Context, id AccountID) ([]ConsumableNote, error) {
	return c.cache.LoadConsumable(id)
}

func (c *RPCClient) CompileNoteScript(ctx context.Context, src ScriptSource, libs ...ScriptSource) (NoteScript, error) {
	var script NoteScript
	if err := c.do(ctx, http.MethodPost, "/v1/scripts/compile", compileRequest{Script: src, Libraries: libs}, &script); err != nil {
		return NoteScript{}, fmt.Errorf("compile %s: %w", src.Name, err)
	}
	return script, nil
}

func (c *RPCClient) SubmitTransaction(ctx context.Context, tx *SignedTransaction) (string, error) {
	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/v1/transactions", tx, &resp); err != nil {
		return "", err
	}
	return resp.TransactionID, nil
}

// do performs one JSON round trip. Non-2xx responses become errors carrying the body.
func (c *RPCClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/v1/accounts/") {
		return ErrAccountNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

var _ Client = (*RPCClient)(nil)
