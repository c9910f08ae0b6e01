// Package amm is the user-facing surface of the pool client. It turns
// display-level intents (token symbols, decimal amounts, slippage) into
// compiled notes, submits them and exposes balances and order state.
package amm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/noteswap/pkg/feeds"
	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/notes"
	"github.com/uhyunpark/noteswap/pkg/orders"
	"github.com/uhyunpark/noteswap/pkg/pools"
	"github.com/uhyunpark/noteswap/pkg/pricing"
	"github.com/uhyunpark/noteswap/pkg/reconcile"
	"github.com/uhyunpark/noteswap/pkg/session"
	"github.com/uhyunpark/noteswap/pkg/submit"
	"github.com/uhyunpark/noteswap/pkg/util"
)

var (
	ErrUnknownToken = errors.New("unknown token")
	ErrNoQuote      = errors.New("no price for token")
	ErrNoTokens     = errors.New("token list not loaded")
)

// PoolsAPI is the part of the operator backend the app reads from.
type PoolsAPI interface {
	Info(ctx context.Context) (*pools.Info, error)
	Balances(ctx context.Context) ([]pools.Balance, error)
	Settings(ctx context.Context) ([]pools.Settings, error)
	Mint(ctx context.Context, account, faucet ledger.AccountID) (pools.MintResult, error)
}

type Deps struct {
	Session    *session.Session
	Compiler   *notes.Compiler
	Submitter  *submit.Submitter
	Reconciler *reconcile.Reconciler
	Tracker    *orders.Tracker
	Prices     feeds.PriceSource
	Pools      PoolsAPI
	Wallet     submit.Wallet
	// Slippage is the default tolerance in percent.
	Slippage decimal.Decimal
	Logger   *zap.SugaredLogger
}

type App struct {
	Deps
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	tokens *ledger.TokenSet
	pool   ledger.AccountID
}

func New(d Deps) *App {
	return &App{Deps: d, logger: util.OrNop(d.Logger).With("component", "app")}
}

// LoadTokens fetches the pool id and its token list from the operator.
func (a *App) LoadTokens(ctx context.Context) (*pools.Info, error) {
	info, err := a.Pools.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("load pool info: %w", err)
	}
	a.mu.Lock()
	a.tokens = info.Tokens()
	a.pool = info.PoolAccountID
	a.mu.Unlock()
	a.logger.Infow("tokens_loaded", "pool", info.PoolAccountID, "count", len(info.LiquidityPools))
	return info, nil
}

func (a *App) Tokens() []ledger.Token {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tokens.List()
}

// Token resolves a symbol (case-insensitive) or an account id.
func (a *App) Token(ref string) (ledger.Token, error) {
	a.mu.RLock()
	tokens := a.tokens
	a.mu.RUnlock()
	if tokens == nil {
		return ledger.Token{}, ErrNoTokens
	}
	if id, err := ledger.ParseAccountID(ref); err == nil {
		if t, ok := tokens.Get(id); ok {
			return t, nil
		}
	}
	if t, ok := tokens.BySymbol(ref); ok {
		return t, nil
	}
	return ledger.Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, ref)
}

// sender is the session account; ErrNoSession until one is started.
func (a *App) sender() (ledger.AccountID, error) {
	account := a.Session.Account()
	if !a.Session.Active() || account.IsZero() {
		return ledger.AccountID{}, session.ErrNoSession
	}
	return account, nil
}

func (a *App) poolID() ledger.AccountID {
	if p := a.Session.Pool(); !p.IsZero() {
		return p
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pool
}

func (a *App) slippage(s string) (decimal.Decimal, error) {
	if s == "" {
		return a.Slippage, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse slippage %q: %w", s, err)
	}
	return d, nil
}

// ==============================
// Intents
// ==============================

type SwapIntent struct {
	Sell   string `json:"sell"`
	Buy    string `json:"buy"`
	Amount string `json:"amount"`
	// MinAmountOut is in display units of Buy. Empty derives it from the
	// oracle quote and the slippage.
	MinAmountOut string `json:"min_amount_out,omitempty"`
	Slippage     string `json:"slippage,omitempty"`
}

type LiquidityIntent struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
	// MinOut is in display units. Empty means Amount less slippage.
	MinOut   string `json:"min_out,omitempty"`
	Slippage string `json:"slippage,omitempty"`
	Private  bool   `json:"private,omitempty"`
}

// Quote prices amount of sell in buy using the oracle feed.
func (a *App) Quote(sell, buy ledger.Token, amount uint64) (uint64, error) {
	if a.Prices == nil {
		return 0, ErrNoQuote
	}
	pIn, ok := a.Prices.CurrentPrice(sell.OracleID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoQuote, sell.Symbol)
	}
	pOut, ok := a.Prices.CurrentPrice(buy.OracleID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoQuote, buy.Symbol)
	}
	return pricing.QuoteOut(amount, pIn, pOut, sell.Decimals, buy.Decimals)
}

func (a *App) Swap(ctx context.Context, in SwapIntent) (submit.Result, error) {
	sender, err := a.sender()
	if err != nil {
		return submit.Result{}, err
	}
	sell, err := a.Token(in.Sell)
	if err != nil {
		return submit.Result{}, err
	}
	buy, err := a.Token(in.Buy)
	if err != nil {
		return submit.Result{}, err
	}
	amount, err := pricing.ParseAmount(in.Amount, sell.Decimals)
	if err != nil {
		return submit.Result{}, err
	}

	var minOut uint64
	if in.MinAmountOut != "" {
		if minOut, err = pricing.ParseAmount(in.MinAmountOut, buy.Decimals); err != nil {
			return submit.Result{}, err
		}
	} else {
		quote, err := a.Quote(sell, buy, amount)
		if err != nil {
			return submit.Result{}, err
		}
		slip, err := a.slippage(in.Slippage)
		if err != nil {
			return submit.Result{}, err
		}
		if minOut, err = pricing.MinAmountOut(quote, slip); err != nil {
			return submit.Result{}, err
		}
	}

	compiled, err := a.Compiler.Swap(ctx, notes.SwapParams{
		Pool:         a.poolID(),
		Sender:       sender,
		Sell:         sell.Faucet,
		Buy:          buy.Faucet,
		Amount:       amount,
		MinAmountOut: minOut,
	})
	if err != nil {
		return submit.Result{}, err
	}
	return a.Submitter.Submit(ctx, compiled, a.Wallet)
}

func (a *App) liquidityAmounts(in LiquidityIntent) (ledger.Token, uint64, uint64, error) {
	tok, err := a.Token(in.Token)
	if err != nil {
		return ledger.Token{}, 0, 0, err
	}
	amount, err := pricing.ParseAmount(in.Amount, tok.Decimals)
	if err != nil {
		return ledger.Token{}, 0, 0, err
	}
	if in.MinOut != "" {
		minOut, err := pricing.ParseAmount(in.MinOut, tok.Decimals)
		return tok, amount, minOut, err
	}
	slip, err := a.slippage(in.Slippage)
	if err != nil {
		return ledger.Token{}, 0, 0, err
	}
	minOut, err := pricing.MinAmountOut(amount, slip)
	return tok, amount, minOut, err
}

func visibility(private bool) ledger.NoteType {
	if private {
		return ledger.NotePrivate
	}
	return ledger.NotePublic
}

func (a *App) Deposit(ctx context.Context, in LiquidityIntent) (submit.Result, error) {
	sender, err := a.sender()
	if err != nil {
		return submit.Result{}, err
	}
	tok, amount, minOut, err := a.liquidityAmounts(in)
	if err != nil {
		return submit.Result{}, err
	}
	compiled, err := a.Compiler.Deposit(ctx, notes.DepositParams{
		Pool:         a.poolID(),
		Sender:       sender,
		Faucet:       tok.Faucet,
		Amount:       amount,
		MinSharesOut: minOut,
		Type:         visibility(in.Private),
	})
	if err != nil {
		return submit.Result{}, err
	}
	return a.Submitter.Submit(ctx, compiled, a.Wallet)
}

func (a *App) Withdraw(ctx context.Context, in LiquidityIntent) (submit.Result, error) {
	sender, err := a.sender()
	if err != nil {
		return submit.Result{}, err
	}
	tok, amount, minOut, err := a.liquidityAmounts(in)
	if err != nil {
		return submit.Result{}, err
	}
	compiled, err := a.Compiler.Withdraw(ctx, notes.WithdrawParams{
		Pool:         a.poolID(),
		Sender:       sender,
		Faucet:       tok.Faucet,
		Amount:       amount,
		MinAmountOut: minOut,
		Type:         visibility(in.Private),
	})
	if err != nil {
		return submit.Result{}, err
	}
	return a.Submitter.Submit(ctx, compiled, a.Wallet)
}

func (a *App) Claim(ctx context.Context) (reconcile.ClaimResult, error) {
	return a.Reconciler.Claim(ctx, a.Wallet)
}

// Mint asks the faucet for test tokens; a granted request promises one note.
func (a *App) Mint(ctx context.Context, token string) (pools.MintResult, error) {
	tok, err := a.Token(token)
	if err != nil {
		return pools.MintResult{}, err
	}
	account, err := a.sender()
	if err != nil {
		return pools.MintResult{}, err
	}
	res, err := a.Pools.Mint(ctx, account, tok.Faucet)
	if err != nil {
		return pools.MintResult{}, err
	}
	if res.Success {
		a.Reconciler.Expect(1)
	}
	return res, nil
}

// ==============================
// Reads
// ==============================

type Balance struct {
	Token     ledger.Token    `json:"token"`
	Units     uint64          `json:"units"`
	Amount    decimal.Decimal `json:"amount"`
	LPUnits   uint64          `json:"lp_units"`
	LPAmount  decimal.Decimal `json:"lp_amount"`
	Claimable int             `json:"claimable_notes"`
}

func (a *App) Balance(ctx context.Context, token string) (Balance, error) {
	tok, err := a.Token(token)
	if err != nil {
		return Balance{}, err
	}
	units, err := a.Session.Balance(ctx, tok.Faucet)
	if err != nil {
		return Balance{}, err
	}
	lp, err := a.Session.LPBalance(ctx, tok.Faucet)
	if err != nil {
		return Balance{}, err
	}
	return Balance{
		Token:     tok,
		Units:     units,
		Amount:    pricing.FromBaseUnits(units, tok.Decimals),
		LPUnits:   lp,
		LPAmount:  pricing.FromBaseUnits(lp, tok.Decimals),
		Claimable: a.Reconciler.Claimable(),
	}, nil
}

func (a *App) Reserves(ctx context.Context) ([]pools.Balance, error) { return a.Pools.Balances(ctx) }

func (a *App) Fees(ctx context.Context) ([]pools.Settings, error) { return a.Pools.Settings(ctx) }

type SessionInfo struct {
	ID       string           `json:"session_id,omitempty"`
	Active   bool             `json:"active"`
	Account  ledger.AccountID `json:"account"`
	Pool     ledger.AccountID `json:"pool"`
	Expected int              `json:"expected_notes"`
	Waiting  bool             `json:"waiting"`
}

func (a *App) SessionInfo() SessionInfo {
	expected, _ := a.Reconciler.Pending()
	return SessionInfo{
		ID:       a.Session.ID(),
		Active:   a.Session.Active(),
		Account:  a.Session.Account(),
		Pool:     a.poolID(),
		Expected: expected,
		Waiting:  expected > 0,
	}
}

func (a *App) Orders() []orders.Record { return a.Tracker.List() }

func (a *App) Order(noteID ledger.NoteID) (orders.Record, bool) { return a.Tracker.Get(noteID) }
