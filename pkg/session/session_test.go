package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/ledger/ledgertest"
	"github.com/uhyunpark/noteswap/pkg/util"
)

func mustID(t *testing.T, prefix, suffix uint64) ledger.AccountID {
	t.Helper()
	id, err := ledger.NewAccountID(prefix, suffix)
	require.NoError(t, err)
	return id
}

// ============================================================================
// Handle
// ============================================================================

func TestExclusive_SerializesConcurrentCallers(t *testing.T) {
	l := ledgertest.New()
	l.Delay = 2 * time.Millisecond
	h := NewHandle()
	h.Install(l)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Exclusive(context.Background(), h, func(ctx context.Context, c ledger.Client) (ledger.SyncSummary, error) {
				return c.SyncState(ctx)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), l.SyncCalls())
	assert.Equal(t, int64(1), l.MaxInflight())
}

func TestExclusive_NoClient(t *testing.T) {
	h := NewHandle()
	_, err := Exclusive(context.Background(), h, func(context.Context, ledger.Client) (int, error) {
		t.Fatal("op must not run")
		return 0, nil
	})
	assert.ErrorIs(t, err, ErrClientUnavailable)

	h.Install(ledgertest.New())
	h.Reset()
	assert.False(t, h.Installed())
	assert.ErrorIs(t, h.Do(context.Background(), func(context.Context, ledger.Client) error { return nil }), ErrClientUnavailable)
}

func TestExclusive_NestedCallFailsFast(t *testing.T) {
	h := NewHandle()
	h.Install(ledgertest.New())

	err := h.Do(context.Background(), func(ctx context.Context, c ledger.Client) error {
		return h.Do(ctx, func(context.Context, ledger.Client) error { return nil })
	})
	assert.ErrorIs(t, err, ErrReentrant)
}

func TestExclusive_CancelWhileWaitingOnly(t *testing.T) {
	h := NewHandle()
	h.Install(ledgertest.New())

	release := make(chan struct{})
	entered := make(chan struct{})
	opErr := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		opErr <- h.Do(ctx, func(inner context.Context, c ledger.Client) error {
			close(entered)
			<-release
			return inner.Err()
		})
	}()
	<-entered

	waitCtx, waitCancel := context.WithCancel(context.Background())
	waitErr := make(chan error, 1)
	go func() {
		waitErr <- h.Do(waitCtx, func(context.Context, ledger.Client) error { return nil })
	}()

	waitCancel()
	assert.ErrorIs(t, <-waitErr, context.Canceled)

	// the running op keeps going after its caller's context is canceled
	cancel()
	close(release)
	assert.NoError(t, <-opErr)
}

// ============================================================================
// ThrottledSync
// ============================================================================

func TestThrottledSync_Window(t *testing.T) {
	l := ledgertest.New()
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	ts := NewThrottledSync(1500*time.Millisecond, clock, nil, nil)
	ctx := context.Background()

	did, err := ts.SyncIfDue(ctx, l)
	require.NoError(t, err)
	assert.True(t, did)

	clock.Advance(time.Second)
	did, err = ts.SyncIfDue(ctx, l)
	require.NoError(t, err)
	assert.False(t, did, "within window")
	assert.Equal(t, int64(1), l.SyncCalls())

	clock.Advance(501 * time.Millisecond)
	did, err = ts.SyncIfDue(ctx, l)
	require.NoError(t, err)
	assert.True(t, did)
	assert.Equal(t, int64(2), l.SyncCalls())

	ts.Force()
	did, err = ts.SyncIfDue(ctx, l)
	require.NoError(t, err)
	assert.True(t, did, "forced")
	assert.Equal(t, clock.Now(), ts.LastSync())
}

func TestThrottledSync_FailureDoesNotConsumeWindow(t *testing.T) {
	l := ledgertest.New()
	l.SyncErr = errors.New("node down")
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	ts := NewThrottledSync(0, clock, nil, nil)

	_, err := ts.SyncIfDue(context.Background(), l)
	require.Error(t, err)

	l.SyncErr = nil
	did, err := ts.SyncIfDue(context.Background(), l)
	require.NoError(t, err)
	assert.True(t, did)
}

// ============================================================================
// Session
// ============================================================================

func TestSession_LifecycleAndHooks(t *testing.T) {
	l := ledgertest.New()
	s := New(nil, nil, nil)
	alice, bob, pool := mustID(t, 1, 1), mustID(t, 2, 2), mustID(t, 9, 9)

	resets := 0
	s.OnReset(func() { resets++ })

	require.NoError(t, s.Start(context.Background(), alice, pool, l))
	assert.True(t, s.Active())
	firstID := s.ID()
	assert.NotEmpty(t, firstID)

	require.NoError(t, s.SwitchAccount(context.Background(), bob, l))
	assert.Equal(t, 1, resets)
	assert.Equal(t, bob, s.Account())
	assert.Equal(t, pool, s.Pool())
	assert.NotEqual(t, firstID, s.ID())

	s.End()
	assert.Equal(t, 2, resets)
	assert.False(t, s.Active())
	assert.False(t, s.Handle().Installed())

	_, err := s.Balance(context.Background(), pool)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSession_BalancesAndLPShares(t *testing.T) {
	l := ledgertest.New()
	s := New(nil, nil, nil)
	user, pool := mustID(t, 1, 2), mustID(t, 9, 9)
	usdc, eth := mustID(t, 30, 31), mustID(t, 40, 41)

	l.SetAccount(&ledger.Account{ID: user, Vault: []ledger.FungibleAsset{{Faucet: usdc, Amount: 250}}})
	l.SetAccount(&ledger.Account{ID: pool, Storage: []ledger.StorageMapEntry{
		{Slot: LPSlot, Key: ledger.Word{2, 1, 31, 30}, Value: ledger.Word{777}},
	}})
	require.NoError(t, s.Start(context.Background(), user, pool, l))

	bal, err := s.Balance(context.Background(), usdc)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), bal)

	shares, err := s.LPBalances(context.Background(), usdc, eth)
	require.NoError(t, err)
	assert.Equal(t, uint64(777), shares[usdc])
	assert.Zero(t, shares[eth])

	l.AddConsumable(user, ledger.ConsumableNote{ID: ledger.NoteID{1}})
	notes, err := s.ConsumableNotes(context.Background())
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}
