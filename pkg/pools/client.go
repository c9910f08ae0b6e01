// Package pools is the REST client for the pool operator's backend: pool
// metadata, reserves, fee settings, the test faucet and the private note relay.
package pools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/util"
)

var ErrUnknownRelay = errors.New("no relay endpoint for note kind")

// Info is the response of GET /pools/info.
type Info struct {
	PoolAccountID  ledger.AccountID `json:"pool_account_id"`
	LiquidityPools []ledger.Token   `json:"liquidity_pools"`
}

// Tokens indexes the listed pools by faucet id.
func (i *Info) Tokens() *ledger.TokenSet { return ledger.NewTokenSet(i.LiquidityPools) }

// Balance is one entry of GET /pools/balance. Amounts are base units.
type Balance struct {
	Faucet              ledger.AccountID `json:"faucet_id"`
	TotalLiabilities    decimal.Decimal  `json:"total_liabilities"`
	Reserve             decimal.Decimal  `json:"reserve"`
	ReserveWithSlippage decimal.Decimal  `json:"reserve_with_slippage"`
}

// Settings is one entry of GET /pools/settings.
type Settings struct {
	Faucet      ledger.AccountID `json:"faucet_id"`
	SwapFee     decimal.Decimal  `json:"swap_fee"`
	ProtocolFee decimal.Decimal  `json:"protocol_fee"`
	BackstopFee decimal.Decimal  `json:"backstop_fee"`
}

type mintRequest struct {
	Address  string `json:"address"`
	FaucetID string `json:"faucet_id"`
}

type mintResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

// MintResult reports a faucet request. A refused request is not an error;
// Success is false and Message carries the server's reason.
type MintResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type relayRequest struct {
	NoteData string `json:"note_data"`
}

type Client struct {
	endpoint string
	network  ledger.NetworkID
	http     *http.Client
	logger   *zap.SugaredLogger
}

func NewClient(endpoint string, network ledger.NetworkID, logger *zap.SugaredLogger) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		network:  network,
		http:     &http.Client{Timeout: 15 * time.Second},
		logger:   util.OrNop(logger).With("component", "pools"),
	}
}

func (c *Client) Info(ctx context.Context) (*Info, error) {
	var out Info
	if err := c.do(ctx, http.MethodGet, "/pools/info", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	var out struct {
		Data []Balance `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/pools/balance", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) Settings(ctx context.Context) ([]Settings, error) {
	var out struct {
		Data []Settings `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/pools/settings", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Mint asks the faucet to send test tokens to account. The faucet answers
// with a note the account has to claim.
func (c *Client) Mint(ctx context.Context, account, faucet ledger.AccountID) (MintResult, error) {
	req := mintRequest{
		Address:  account.Bech32(c.network),
		FaucetID: faucet.Bech32(c.network),
	}
	var resp mintResponse
	if err := c.do(ctx, http.MethodPost, "/faucets/mint", req, &resp); err != nil {
		return MintResult{}, err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		if msg == "" {
			msg = "mint request failed"
		}
		c.logger.Infow("mint_refused", "faucet", faucet, "reason", msg)
		return MintResult{Message: msg}, nil
	}
	msg := resp.Message
	if msg == "" {
		msg = "requested, claim the tokens in your wallet"
	}
	c.logger.Infow("mint_requested", "faucet", faucet, "tx_id", resp.TransactionID)
	return MintResult{Success: true, Message: msg, TransactionID: resp.TransactionID}, nil
}

// SubmitPrivateNote hands a serialized private note to the operator so the
// pool can consume it. kind is "deposit" or "withdraw".
func (c *Client) SubmitPrivateNote(ctx context.Context, kind string, note []byte) error {
	if kind != "deposit" && kind != "withdraw" {
		return fmt.Errorf("%w: %q", ErrUnknownRelay, kind)
	}
	req := relayRequest{NoteData: base64.StdEncoding.EncodeToString(note)}
	if err := c.do(ctx, http.MethodPost, "/"+kind+"/submit", req, nil); err != nil {
		return err
	}
	c.logger.Infow("private_note_relayed", "kind", kind, "bytes", len(note))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
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
