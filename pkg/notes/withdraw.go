package notes

import (
	"context"
	"time"

	"github.com/uhyunpark/noteswap/pkg/ledger"
)

type WithdrawParams struct {
	Pool         ledger.AccountID
	Sender       ledger.AccountID
	Faucet       ledger.AccountID
	Amount       uint64
	MinAmountOut uint64
	Type         ledger.NoteType
}

func (p WithdrawParams) validate() error {
	for _, f := range []struct {
		name string
		id   ledger.AccountID
	}{{"pool", p.Pool}, {"sender", p.Sender}, {"faucet", p.Faucet}} {
		if err := checkAccount(KindWithdraw, f.name, f.id); err != nil {
			return err
		}
	}
	if p.Amount == 0 {
		return invalid(KindWithdraw, "amount", "must be positive")
	}
	if p.Amount > ledger.MaxAssetAmount {
		return invalid(KindWithdraw, "amount", "exceeds max asset amount")
	}
	if err := checkVisibility(KindWithdraw, p.Type); err != nil {
		return err
	}
	return checkFelt(KindWithdraw, "min_amount_out", p.MinAmountOut)
}

// WithdrawInputs lays out the withdraw note inputs, starting with the
// requested asset word.
func WithdrawInputs(p WithdrawParams, deadline time.Time) ledger.NoteInputs {
	requested := ledger.FungibleAsset{Faucet: p.Faucet, Amount: p.Amount}.Word()
	in := make(ledger.NoteInputs, WithdrawInputCount)
	copy(in, requested[:])
	in[WithdrawLayout.MinAmountOut] = ledger.Felt(p.MinAmountOut)
	in[WithdrawLayout.Deadline] = deadlineFelt(deadline)
	in[WithdrawLayout.ReturnTag] = ledger.TagFromAccountID(p.Sender).Felt()
	in[WithdrawLayout.SenderSuffix] = p.Sender.Suffix
	in[WithdrawLayout.SenderPrefix] = p.Sender.Prefix
	return in
}

// BuildWithdraw assembles a withdraw note. It carries no assets; the pool
// releases them on execution.
func BuildWithdraw(p WithdrawParams, script ledger.NoteScript, serial ledger.Word, deadline time.Time) (*ledger.Note, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	tag, err := visibilityTag(KindWithdraw, p.Type, p.Pool)
	if err != nil {
		return nil, err
	}
	return &ledger.Note{
		Metadata: metadata(p.Sender, p.Type, tag),
		Recipient: ledger.NoteRecipient{
			Serial: serial,
			Script: script,
			Inputs: WithdrawInputs(p, deadline),
		},
	}, nil
}

func (c *Compiler) Withdraw(ctx context.Context, p WithdrawParams) (*Compiled, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	script, serial, deadline, err := c.envelope(ctx, KindWithdraw, c.scripts.Withdraw)
	if err != nil {
		return nil, err
	}
	note, err := BuildWithdraw(p, script, serial, deadline)
	if err != nil {
		return nil, err
	}
	return c.finish(KindWithdraw, note, p.Pool, p.Sender, deadline), nil
}
