package notes

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/ledger/ledgertest"
	"github.com/uhyunpark/noteswap/pkg/session"
	"github.com/uhyunpark/noteswap/pkg/util"
)

var (
	pool   = ledger.MustParseAccountID("0x00000000000000aa00000000000000bb")
	sender = ledger.MustParseAccountID("0x00000000000000cc00000000000000dd")
	usdc   = ledger.MustParseAccountID("0x00000000000001010000000000000102")
	weth   = ledger.MustParseAccountID("0x00000000000002010000000000000202")
)

var start = time.UnixMilli(1_700_000_000_000)

func newCompiler(t *testing.T, serial ledger.Word) (*Compiler, *ledgertest.Ledger) {
	t.Helper()
	l := ledgertest.New()
	c := NewCompiler(l,
		WithSerials(FixedSerial(serial)),
		WithClock(util.NewManualClock(start)),
	)
	return c, l
}

func swapParams() SwapParams {
	return SwapParams{
		Pool:         pool,
		Sender:       sender,
		Sell:         usdc,
		Buy:          weth,
		Amount:       1_000000,
		MinAmountOut: 950000,
	}
}

func TestSwap_EndToEndLayout(t *testing.T) {
	c, _ := newCompiler(t, ledger.Word{1, 2, 3, 4})

	out, err := c.Swap(context.Background(), swapParams())
	require.NoError(t, err)

	in := out.Note.Recipient.Inputs
	require.Len(t, in, SwapInputCount)
	assert.Equal(t, ledger.NoteInputs{
		950000, 0, weth.Suffix, weth.Prefix,
		ledger.Felt(start.Add(120 * time.Second).UnixMilli()), ledger.TagFromAccountID(sender).Felt(), 0, 0,
		0, 0, sender.Suffix, sender.Prefix,
	}, in)

	require.Len(t, out.Note.Assets, 1)
	assert.Equal(t, ledger.FungibleAsset{Faucet: usdc, Amount: 1_000000}, out.Note.Assets[0])
	assert.Equal(t, ledger.NotePublic, out.Note.Metadata.Type)
	assert.Equal(t, ledger.TagFromAccountID(pool), out.Note.Metadata.Tag)
	assert.Equal(t, out.Note.ID(), out.NoteID)
}

func TestSwap_DeterministicExceptSerial(t *testing.T) {
	a, _ := newCompiler(t, ledger.Word{1, 2, 3, 4})
	b, _ := newCompiler(t, ledger.Word{1, 2, 3, 4})
	c, _ := newCompiler(t, ledger.Word{9, 9, 9, 9})
	ctx := context.Background()

	x, err := a.Swap(ctx, swapParams())
	require.NoError(t, err)
	y, err := b.Swap(ctx, swapParams())
	require.NoError(t, err)
	z, err := c.Swap(ctx, swapParams())
	require.NoError(t, err)

	assert.Equal(t, x.NoteID, y.NoteID)
	assert.Equal(t, x.Note.Recipient.Inputs, y.Note.Recipient.Inputs)

	assert.NotEqual(t, x.NoteID, z.NoteID)
	assert.Equal(t, x.Note.Recipient.Inputs, z.Note.Recipient.Inputs)
}

func TestRandomSerials_Differ(t *testing.T) {
	src := RandomSerials()
	s1, err := src.Serial()
	require.NoError(t, err)
	s2, err := src.Serial()
	require.NoError(t, err)
	assert.NotEqual(t, s1, s2)
	for _, f := range s1 {
		assert.Less(t, uint64(f), ledger.Modulus)
	}
}

func TestDeposit_Layout(t *testing.T) {
	c, _ := newCompiler(t, ledger.Word{5, 5, 5, 5})
	out, err := c.Deposit(context.Background(), DepositParams{
		Pool: pool, Sender: sender, Faucet: usdc,
		Amount: 500, MinSharesOut: 480, Type: ledger.NotePublic,
	})
	require.NoError(t, err)

	in := out.Note.Recipient.Inputs
	require.Len(t, in, DepositInputCount)
	assert.Equal(t, ledger.Felt(480), in[DepositLayout.MinSharesOut])
	assert.Equal(t, ledger.NoteInputs{0, 0, 0}, in[1:4], "buy-asset slots reserved")
	assert.Equal(t, ledger.NoteInputs{0, 0, 0, 0}, in[6:10])
	assert.Equal(t, sender.Suffix, in[DepositLayout.SenderSuffix])
	assert.Equal(t, sender.Prefix, in[DepositLayout.SenderPrefix])
	assert.Equal(t, []ledger.FungibleAsset{{Faucet: usdc, Amount: 500}}, out.Note.Assets)

	priv, err := c.Deposit(context.Background(), DepositParams{
		Pool: pool, Sender: sender, Faucet: usdc,
		Amount: 500, MinSharesOut: 480, Type: ledger.NotePrivate,
	})
	require.NoError(t, err)
	assert.True(t, priv.Note.Metadata.Tag.IsLocalUse())
}

func TestWithdraw_LayoutAndTags(t *testing.T) {
	c, _ := newCompiler(t, ledger.Word{7, 7, 7, 7})
	params := WithdrawParams{
		Pool: pool, Sender: sender, Faucet: weth,
		Amount: 42, MinAmountOut: 40, Type: ledger.NotePublic,
	}

	pub, err := c.Withdraw(context.Background(), params)
	require.NoError(t, err)
	in := pub.Note.Recipient.Inputs
	require.Len(t, in, WithdrawInputCount)
	assert.Equal(t, ledger.NoteInputs{
		42, 0, weth.Suffix, weth.Prefix,
		0, 40, ledger.Felt(start.Add(DefaultDeadline).UnixMilli()), ledger.TagFromAccountID(sender).Felt(),
		0, 0, sender.Suffix, sender.Prefix,
	}, in)
	assert.Empty(t, pub.Note.Assets)
	assert.Equal(t, ledger.TagFromAccountID(pool), pub.Note.Metadata.Tag)

	params.Type = ledger.NotePrivate
	priv, err := c.Withdraw(context.Background(), params)
	require.NoError(t, err)
	local, err := ledger.TagForLocalUse(0, 0)
	require.NoError(t, err)
	assert.Equal(t, local, priv.Note.Metadata.Tag)
	assert.Equal(t, ledger.NotePrivate, priv.Note.Metadata.Type)
}

func TestCompile_RejectsMalformedIntents(t *testing.T) {
	c, l := newCompiler(t, ledger.Word{1, 1, 1, 1})
	ctx := context.Background()

	cases := map[string]func() error{
		"zero amount": func() error {
			p := swapParams()
			p.Amount = 0
			_, err := c.Swap(ctx, p)
			return err
		},
		"same asset": func() error {
			p := swapParams()
			p.Buy = p.Sell
			_, err := c.Swap(ctx, p)
			return err
		},
		"zero sender": func() error {
			p := swapParams()
			p.Sender = ledger.AccountID{}
			_, err := c.Swap(ctx, p)
			return err
		},
		"min out beyond field": func() error {
			p := swapParams()
			p.MinAmountOut = ledger.Modulus
			_, err := c.Swap(ctx, p)
			return err
		},
		"unknown visibility": func() error {
			_, err := c.Withdraw(ctx, WithdrawParams{Pool: pool, Sender: sender, Faucet: usdc, Amount: 1, Type: 9})
			return err
		},
		"deposit zero amount": func() error {
			_, err := c.Deposit(ctx, DepositParams{Pool: pool, Sender: sender, Faucet: usdc, Type: ledger.NotePublic})
			return err
		},
	}
	for name, run := range cases {
		t.Run(name, func(t *testing.T) {
			err := run()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCompilation)
			var ce *CompilationError
			assert.True(t, errors.As(err, &ce))
		})
	}
	assert.Zero(t, l.CompileCalls(), "validation happens before script compilation")
}

func TestCompile_ThroughGateIsCached(t *testing.T) {
	l := ledgertest.New()
	s := session.New(nil, nil, nil)
	require.NoError(t, s.Start(context.Background(), sender, pool, l))

	c := NewCompiler(s, WithClock(util.NewManualClock(start)))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.Swap(ctx, swapParams())
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), l.CompileCalls())
	assert.Equal(t, 1, c.Cache().Len())

	require.NoError(t, c.Warm(ctx))
	assert.Equal(t, int64(3), l.CompileCalls())
}

func TestCompile_NoClientSurfacesUnavailable(t *testing.T) {
	s := session.New(nil, nil, nil)
	c := NewCompiler(s)
	_, err := c.Swap(context.Background(), swapParams())
	assert.ErrorIs(t, err, ErrCompilation)
	assert.ErrorIs(t, err, session.ErrClientUnavailable)
}

func TestLoadScripts_OverridesFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "swap.masm"), []byte("begin end"), 0o644))

	s, err := LoadScripts(dir)
	require.NoError(t, err)
	assert.Equal(t, "begin end", s.Swap.Source)
	assert.Equal(t, DefaultScripts().Withdraw, s.Withdraw)
	assert.Equal(t, poolLibraryName, s.Library.Name)
}
