package notes

import (
	"context"
	"time"

	"github.com/uhyunpark/noteswap/pkg/ledger"
)

type DepositParams struct {
	Pool         ledger.AccountID
	Sender       ledger.AccountID
	Faucet       ledger.AccountID
	Amount       uint64
	MinSharesOut uint64
	Type         ledger.NoteType
}

func (p DepositParams) validate() error {
	for _, f := range []struct {
		name string
		id   ledger.AccountID
	}{{"pool", p.Pool}, {"sender", p.Sender}, {"faucet", p.Faucet}} {
		if err := checkAccount(KindDeposit, f.name, f.id); err != nil {
			return err
		}
	}
	if p.Amount == 0 {
		return invalid(KindDeposit, "amount", "must be positive")
	}
	if err := checkVisibility(KindDeposit, p.Type); err != nil {
		return err
	}
	return checkFelt(KindDeposit, "min_shares_out", p.MinSharesOut)
}

// DepositInputs lays out the deposit note inputs. Slots 1-3 stay zero.
func DepositInputs(p DepositParams, deadline time.Time) ledger.NoteInputs {
	in := make(ledger.NoteInputs, DepositInputCount)
	in[DepositLayout.MinSharesOut] = ledger.Felt(p.MinSharesOut)
	in[DepositLayout.Deadline] = deadlineFelt(deadline)
	in[DepositLayout.ReturnTag] = ledger.TagFromAccountID(p.Sender).Felt()
	in[DepositLayout.SenderSuffix] = p.Sender.Suffix
	in[DepositLayout.SenderPrefix] = p.Sender.Prefix
	return in
}

// BuildDeposit assembles a deposit note carrying the deposited asset.
func BuildDeposit(p DepositParams, script ledger.NoteScript, serial ledger.Word, deadline time.Time) (*ledger.Note, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	asset, err := ledger.NewFungibleAsset(p.Faucet, p.Amount)
	if err != nil {
		return nil, &CompilationError{Kind: KindDeposit, Field: "amount", Err: err}
	}
	tag, err := visibilityTag(KindDeposit, p.Type, p.Pool)
	if err != nil {
		return nil, err
	}
	return &ledger.Note{
		Assets:   []ledger.FungibleAsset{asset},
		Metadata: metadata(p.Sender, p.Type, tag),
		Recipient: ledger.NoteRecipient{
			Serial: serial,
			Script: script,
			Inputs: DepositInputs(p, deadline),
		},
	}, nil
}

func (c *Compiler) Deposit(ctx context.Context, p DepositParams) (*Compiled, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	script, serial, deadline, err := c.envelope(ctx, KindDeposit, c.scripts.Deposit)
	if err != nil {
		return nil, err
	}
	note, err := BuildDeposit(p, script, serial, deadline)
	if err != nil {
		return nil, err
	}
	return c.finish(KindDeposit, note, p.Pool, p.Sender, deadline), nil
}
