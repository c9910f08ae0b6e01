package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/ledger/ledgertest"
	"github.com/uhyunpark/noteswap/pkg/session"
	"github.com/uhyunpark/noteswap/pkg/submit"
	"github.com/uhyunpark/noteswap/pkg/util"
	"github.com/uhyunpark/noteswap/pkg/wallet"
)

var (
	pool    = ledger.MustParseAccountID("0x00000000000000aa00000000000000bb")
	account = ledger.MustParseAccountID("0x00000000000000cc00000000000000dd")
	usdc    = ledger.MustParseAccountID("0x00000000000001010000000000000102")
)

func note(b byte, amount uint64) ledger.ConsumableNote {
	return ledger.ConsumableNote{
		ID:     ledger.NoteID{b},
		Sender: pool,
		Assets: []ledger.FungibleAsset{{Faucet: usdc, Amount: amount}},
	}
}

type fixture struct {
	clock  *util.ManualClock
	ledger *ledgertest.Ledger
	sess   *session.Session
	rec    *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := util.NewManualClock(time.UnixMilli(1_700_000_000_000))
	l := ledgertest.New()
	sess := session.New(nil, session.NewThrottledSync(session.DefaultSyncWindow, clock, nil, nil), nil)
	require.NoError(t, sess.Start(context.Background(), account, pool, l))
	return &fixture{
		clock:  clock,
		ledger: l,
		sess:   sess,
		rec:    New(sess, DefaultInterval, clock, nil, nil),
	}
}

func (f *fixture) wallet(t *testing.T) *wallet.Local {
	t.Helper()
	key, err := wallet.GenerateKey()
	require.NoError(t, err)
	return wallet.NewLocal(key, f.sess.Handle(), nil)
}

func TestTick_AggregateDecrement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.rec.Tick(ctx))
	f.rec.Expect(2)
	expected, last := f.rec.Pending()
	assert.Equal(t, 2, expected)
	assert.Equal(t, 0, last)

	f.ledger.AddConsumable(account, note(1, 10))
	require.NoError(t, f.rec.Tick(ctx))
	expected, last = f.rec.Pending()
	assert.Equal(t, 1, expected)
	assert.Equal(t, 1, last)

	f.ledger.AddConsumable(account, note(2, 10), note(3, 10))
	require.NoError(t, f.rec.Tick(ctx))
	expected, last = f.rec.Pending()
	assert.Equal(t, 0, expected, "clamped at zero")
	assert.Equal(t, 3, last)
	assert.False(t, f.rec.Waiting())
}

func TestTick_FirstObservationOnlyInitializes(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddConsumable(account, note(1, 10), note(2, 10))
	f.rec.Expect(1)

	require.NoError(t, f.rec.Tick(context.Background()))
	expected, last := f.rec.Pending()
	assert.Equal(t, 1, expected, "notes present before the first look are not arrivals")
	assert.Equal(t, 2, last)
}

func TestTick_DecreaseInCountDoesNotClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.AddConsumable(account, note(1, 10), note(2, 10))
	require.NoError(t, f.rec.Tick(ctx))
	f.rec.Expect(1)

	// Another device claimed both notes.
	_, err := f.wallet(t).RequestTransaction(ctx, &ledger.TransactionRequest{
		Account: account, InputNoteIDs: []ledger.NoteID{{1}, {2}},
	})
	require.NoError(t, err)
	require.NoError(t, f.rec.Tick(ctx))
	expected, last := f.rec.Pending()
	assert.Equal(t, 1, expected)
	assert.Equal(t, 0, last)
}

func TestTick_OverlapIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.ledger.Delay = 50 * time.Millisecond

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { errs <- f.rec.Tick(context.Background()) }()
	}
	var skipped int
	for i := 0; i < 2; i++ {
		if errors.Is(<-errs, ErrReconciliationSkipped) {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)
}

func TestTick_WithoutClientFails(t *testing.T) {
	f := newFixture(t)
	f.sess.End()
	err := f.rec.Tick(context.Background())
	assert.True(t, errors.Is(err, session.ErrClientUnavailable) || errors.Is(err, session.ErrNoSession))
}

func TestOnChange_FiresOnFlips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rec.Tick(ctx))

	var events []bool
	remove := f.rec.OnChange(func(w bool) { events = append(events, w) })
	f.rec.Expect(1)
	f.rec.Expect(1)
	f.ledger.AddConsumable(account, note(1, 1), note(2, 1))
	require.NoError(t, f.rec.Tick(ctx))
	remove()
	f.rec.Expect(1)

	assert.Equal(t, []bool{true, false}, events)
}

func TestReset_ClearsState(t *testing.T) {
	f := newFixture(t)
	f.sess.OnReset(f.rec.Reset)
	require.NoError(t, f.rec.Tick(context.Background()))
	f.rec.Expect(3)

	f.sess.End()
	expected, last := f.rec.Pending()
	assert.Zero(t, expected)
	assert.Equal(t, -1, last)
}

func TestClaim_NothingToClaim(t *testing.T) {
	f := newFixture(t)
	res, err := f.rec.Claim(context.Background(), f.wallet(t))
	require.NoError(t, err)
	assert.Equal(t, ClaimResult{Claimed: 0}, res)
	assert.Empty(t, f.ledger.Submitted())
}

func TestClaim_ConsumesAllAndReconciles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.rec.Tick(ctx))
	f.rec.Expect(1)
	f.ledger.AddConsumable(account, note(1, 10), note(2, 15))

	res, err := f.rec.Claim(ctx, f.wallet(t))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Claimed)
	assert.NotEmpty(t, res.TxID)

	sub := f.ledger.Submitted()
	require.Len(t, sub, 1)
	assert.ElementsMatch(t, []ledger.NoteID{{1}, {2}}, sub[0].Request.InputNoteIDs)

	bal, err := f.sess.Balance(ctx, usdc)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), bal)

	expected, last := f.rec.Pending()
	assert.Equal(t, 0, expected, "claimed notes count as arrivals")
	assert.Equal(t, 0, last)

	f.rec.Expect(1)
	f.ledger.AddConsumable(account, note(3, 5))
	require.NoError(t, f.rec.Tick(ctx))
	assert.False(t, f.rec.Waiting())
}

type rejectingWallet struct{ calls atomic.Int32 }

func (w *rejectingWallet) RequestTransaction(context.Context, *ledger.TransactionRequest) (string, error) {
	w.calls.Add(1)
	return "", errors.New("insufficient fee")
}

func TestClaim_RejectionSurfaces(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddConsumable(account, note(1, 10))
	w := &rejectingWallet{}

	_, err := f.rec.Claim(context.Background(), w)
	assert.ErrorIs(t, err, submit.ErrSubmissionRejected)
	assert.Contains(t, err.Error(), "insufficient fee")
	assert.Equal(t, int32(1), w.calls.Load())
}

type blockingWallet struct {
	entered chan struct{}
	release chan struct{}
}

func (w *blockingWallet) RequestTransaction(context.Context, *ledger.TransactionRequest) (string, error) {
	close(w.entered)
	<-w.release
	return "tx-1", nil
}

func TestClaim_TicksSkippedWhileClaiming(t *testing.T) {
	f := newFixture(t)
	f.ledger.AddConsumable(account, note(1, 10))
	w := &blockingWallet{entered: make(chan struct{}), release: make(chan struct{})}

	done := make(chan error, 1)
	go func() {
		_, err := f.rec.Claim(context.Background(), w)
		done <- err
	}()
	<-w.entered

	assert.ErrorIs(t, f.rec.Tick(context.Background()), ErrReconciliationSkipped)
	_, err := f.rec.Claim(context.Background(), w)
	assert.ErrorIs(t, err, ErrClaimInProgress)

	close(w.release)
	require.NoError(t, <-done)
}

func TestStartStop_TicksOnInterval(t *testing.T) {
	f := newFixture(t)
	f.rec.Start(context.Background())
	defer f.rec.Stop()

	require.Eventually(t, func() bool { return f.clock.Pending() >= 1 }, time.Second, time.Millisecond)
	f.clock.Advance(DefaultInterval)
	require.Eventually(t, func() bool {
		_, last := f.rec.Pending()
		return last == 0
	}, time.Second, time.Millisecond)
}
