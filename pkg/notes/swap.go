package notes

import (
	"context"
	"time"

	"github.com/uhyunpark/noteswap/pkg/ledger"
)

type SwapParams struct {
	Pool         ledger.AccountID
	Sender       ledger.AccountID
	Sell         ledger.AccountID // faucet of the offered asset
	Buy          ledger.AccountID // faucet of the requested asset
	Amount       uint64
	MinAmountOut uint64
}

func (p SwapParams) validate() error {
	for _, f := range []struct {
		name string
		id   ledger.AccountID
	}{{"pool", p.Pool}, {"sender", p.Sender}, {"sell", p.Sell}, {"buy", p.Buy}} {
		if err := checkAccount(KindSwap, f.name, f.id); err != nil {
			return err
		}
	}
	if p.Sell == p.Buy {
		return invalid(KindSwap, "buy", "same asset as sell")
	}
	if p.Amount == 0 {
		return invalid(KindSwap, "amount", "must be positive")
	}
	return checkFelt(KindSwap, "min_amount_out", p.MinAmountOut)
}

// SwapInputs lays out the swap note inputs.
func SwapInputs(p SwapParams, deadline time.Time) ledger.NoteInputs {
	in := make(ledger.NoteInputs, SwapInputCount)
	in[SwapLayout.MinAmountOut] = ledger.Felt(p.MinAmountOut)
	in[SwapLayout.BuySuffix] = p.Buy.Suffix
	in[SwapLayout.BuyPrefix] = p.Buy.Prefix
	in[SwapLayout.Deadline] = deadlineFelt(deadline)
	in[SwapLayout.ReturnTag] = ledger.TagFromAccountID(p.Sender).Felt()
	in[SwapLayout.SenderSuffix] = p.Sender.Suffix
	in[SwapLayout.SenderPrefix] = p.Sender.Prefix
	return in
}

// BuildSwap assembles a public swap note carrying the offered asset, tagged for the pool.
func BuildSwap(p SwapParams, script ledger.NoteScript, serial ledger.Word, deadline time.Time) (*ledger.Note, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	offered, err := ledger.NewFungibleAsset(p.Sell, p.Amount)
	if err != nil {
		return nil, &CompilationError{Kind: KindSwap, Field: "amount", Err: err}
	}
	return &ledger.Note{
		Assets:   []ledger.FungibleAsset{offered},
		Metadata: metadata(p.Sender, ledger.NotePublic, ledger.TagFromAccountID(p.Pool)),
		Recipient: ledger.NoteRecipient{
			Serial: serial,
			Script: script,
			Inputs: SwapInputs(p, deadline),
		},
	}, nil
}

// Swap compiles a swap intent.
func (c *Compiler) Swap(ctx context.Context, p SwapParams) (*Compiled, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	script, serial, deadline, err := c.envelope(ctx, KindSwap, c.scripts.Swap)
	if err != nil {
		return nil, err
	}
	note, err := BuildSwap(p, script, serial, deadline)
	if err != nil {
		return nil, err
	}
	return c.finish(KindSwap, note, p.Pool, p.Sender, deadline), nil
}
