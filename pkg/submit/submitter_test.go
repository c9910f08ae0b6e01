package submit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/noteswap/pkg/channel"
	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/ledger/ledgertest"
	"github.com/uhyunpark/noteswap/pkg/notes"
	"github.com/uhyunpark/noteswap/pkg/orders"
	"github.com/uhyunpark/noteswap/pkg/session"
	"github.com/uhyunpark/noteswap/pkg/util"
)

var (
	pool   = ledger.MustParseAccountID("0x00000000000000aa00000000000000bb")
	sender = ledger.MustParseAccountID("0x00000000000000cc00000000000000dd")
	usdc   = ledger.MustParseAccountID("0x00000000000001010000000000000102")
	weth   = ledger.MustParseAccountID("0x00000000000002010000000000000202")
)

type mockWallet struct{ mock.Mock }

func (m *mockWallet) RequestTransaction(ctx context.Context, req *ledger.TransactionRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type mockRelay struct{ mock.Mock }

func (m *mockRelay) SubmitPrivateNote(ctx context.Context, kind string, note []byte) error {
	return m.Called(ctx, kind, note).Error(0)
}

type counter struct {
	mu       sync.Mutex
	expected int
	subs     []channel.Subscription
	lines    []string
}

func (c *counter) Expect(n int) {
	c.mu.Lock()
	c.expected += n
	c.mu.Unlock()
}

func (c *counter) Subscribe(subs ...channel.Subscription) {
	c.mu.Lock()
	c.subs = append(c.subs, subs...)
	c.mu.Unlock()
}

func (c *counter) Append(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

type fixture struct {
	clock    *util.ManualClock
	ledger   *ledgertest.Ledger
	session  *session.Session
	compiler *notes.Compiler
	tracker  *orders.Tracker
	sink     *counter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := util.NewManualClock(time.UnixMilli(1_700_000_000_000))
	l := ledgertest.New()
	sess := session.New(nil, session.NewThrottledSync(session.DefaultSyncWindow, clock, nil, nil), nil)
	require.NoError(t, sess.Start(context.Background(), sender, pool, l))
	return &fixture{
		clock:    clock,
		ledger:   l,
		session:  sess,
		compiler: notes.NewCompiler(sess, notes.WithClock(clock), notes.WithSerials(notes.FixedSerial{1, 2, 3, 4})),
		tracker:  orders.NewTracker(nil, clock, nil),
		sink:     &counter{},
	}
}

func (f *fixture) submitter(opts ...Option) *Submitter {
	base := []Option{
		WithClock(f.clock),
		WithTracker(f.tracker),
		WithExpecter(f.sink),
		WithSubscriber(f.sink),
		WithJournal(f.sink),
	}
	return New(f.session, append(base, opts...)...)
}

func (f *fixture) swap(t *testing.T) *notes.Compiled {
	t.Helper()
	c, err := f.compiler.Swap(context.Background(), notes.SwapParams{
		Pool: pool, Sender: sender, Sell: usdc, Buy: weth,
		Amount: 1_000000, MinAmountOut: 950000,
	})
	require.NoError(t, err)
	return c
}

func TestSubmit_SwapRecordsEverything(t *testing.T) {
	f := newFixture(t)
	compiled := f.swap(t)

	w := &mockWallet{}
	w.On("RequestTransaction", mock.Anything, mock.MatchedBy(func(req *ledger.TransactionRequest) bool {
		return req.Account == sender && req.Counterparty == pool &&
			len(req.OutputNotes) == 1 && req.OutputNotes[0].ID() == compiled.NoteID
	})).Return("tx-1", nil).Once()

	res, err := f.submitter().Submit(context.Background(), compiled, w)
	require.NoError(t, err)
	w.AssertExpectations(t)

	assert.Equal(t, Result{TxID: "tx-1", NoteID: compiled.NoteID}, res)

	rec, ok := f.tracker.Get(compiled.NoteID)
	require.True(t, ok)
	assert.Equal(t, channel.StatusCreated, rec.Status)
	assert.Equal(t, "tx-1", rec.TxID)
	assert.Equal(t, orders.KindSwap, rec.Kind)

	assert.Equal(t, 1, f.sink.expected)
	assert.Equal(t, []channel.Subscription{channel.OrderUpdates(compiled.NoteID.String())}, f.sink.subs)
	require.Len(t, f.sink.lines, 1)
	assert.Contains(t, f.sink.lines[0], "tx=tx-1")
}

func TestSubmit_FinishedBeforeResultIsNotSubscribed(t *testing.T) {
	f := newFixture(t)
	compiled := f.swap(t)
	f.tracker.Apply(&channel.OrderUpdate{
		Type: channel.TypeOrderUpdate, NoteID: compiled.NoteID.String(), Status: channel.StatusExecuted, Timestamp: 1,
	})

	w := &mockWallet{}
	w.On("RequestTransaction", mock.Anything, mock.Anything).Return("tx-1", nil).Once()
	_, err := f.submitter().Submit(context.Background(), compiled, w)
	require.NoError(t, err)

	rec, ok := f.tracker.Get(compiled.NoteID)
	require.True(t, ok)
	assert.Equal(t, channel.StatusExecuted, rec.Status)
	assert.Equal(t, "tx-1", rec.TxID)
	assert.Empty(t, f.sink.subs)
}

func TestSubmit_PreAndPostSyncShareTheThrottle(t *testing.T) {
	f := newFixture(t)
	compiled := f.swap(t)

	w := &mockWallet{}
	w.On("RequestTransaction", mock.Anything, mock.Anything).Return("tx-1", nil).Once()
	_, err := f.submitter().Submit(context.Background(), compiled, w)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.ledger.SyncCalls(), "post-sync collapses into the pre-sync window")

	f.clock.Advance(2 * time.Second)
	w.On("RequestTransaction", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { f.clock.Advance(2 * time.Second) }).
		Return("tx-2", nil).Once()
	_, err = f.submitter().Submit(context.Background(), f.swap(t), w)
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.ledger.SyncCalls())
}

func TestSubmit_RejectionIsVerbatimAndRecordsNothing(t *testing.T) {
	f := newFixture(t)
	compiled := f.swap(t)

	w := &mockWallet{}
	w.On("RequestTransaction", mock.Anything, mock.Anything).Return("", errors.New("user declined the request"))

	_, err := f.submitter().Submit(context.Background(), compiled, w)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSubmissionRejected)
	assert.Contains(t, err.Error(), "user declined the request")

	assert.Empty(t, f.tracker.List())
	assert.Zero(t, f.sink.expected)
	assert.Empty(t, f.sink.subs)
	assert.Empty(t, f.sink.lines)
}

func TestSubmit_NoClientIsUnavailable(t *testing.T) {
	f := newFixture(t)
	compiled := f.swap(t)
	f.session.End()

	w := &mockWallet{}
	_, err := f.submitter().Submit(context.Background(), compiled, w)
	assert.ErrorIs(t, err, session.ErrClientUnavailable)
	w.AssertNotCalled(t, "RequestTransaction", mock.Anything, mock.Anything)
}

func TestSubmit_PrivateDepositIsRelayedAfterDelay(t *testing.T) {
	f := newFixture(t)
	compiled, err := f.compiler.Deposit(context.Background(), notes.DepositParams{
		Pool: pool, Sender: sender, Faucet: usdc, Amount: 500, MinSharesOut: 480, Type: ledger.NotePrivate,
	})
	require.NoError(t, err)
	body, err := compiled.Note.Serialize()
	require.NoError(t, err)

	w := &mockWallet{}
	w.On("RequestTransaction", mock.Anything, mock.Anything).Return("tx-d", nil)
	relay := &mockRelay{}
	relay.On("SubmitPrivateNote", mock.Anything, "deposit", body).Return(nil).Once()

	s := f.submitter(WithRelay(relay))
	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), compiled, w)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, time.Second, time.Millisecond)
	relay.AssertNotCalled(t, "SubmitPrivateNote", mock.Anything, mock.Anything, mock.Anything)
	f.clock.Advance(DefaultRelayDelay)

	require.NoError(t, <-done)
	relay.AssertExpectations(t)
	assert.Zero(t, f.sink.expected, "deposits mint shares, not notes")
}

func TestSubmit_RelayFailureReachesCaller(t *testing.T) {
	f := newFixture(t)
	compiled, err := f.compiler.Withdraw(context.Background(), notes.WithdrawParams{
		Pool: pool, Sender: sender, Faucet: weth, Amount: 42, MinAmountOut: 40, Type: ledger.NotePrivate,
	})
	require.NoError(t, err)

	w := &mockWallet{}
	w.On("RequestTransaction", mock.Anything, mock.Anything).Return("tx-w", nil)
	relay := &mockRelay{}
	relay.On("SubmitPrivateNote", mock.Anything, "withdraw", mock.Anything).Return(errors.New("HTTP 500"))

	res, err := f.submitter(WithRelay(relay), WithRelayDelay(0)).Submit(context.Background(), compiled, w)
	assert.ErrorIs(t, err, ErrRelayFailed)
	assert.Equal(t, "tx-w", res.TxID)
	assert.Equal(t, 1, f.sink.expected)
}

func TestSubmit_PublicWithdrawSkipsRelay(t *testing.T) {
	f := newFixture(t)
	compiled, err := f.compiler.Withdraw(context.Background(), notes.WithdrawParams{
		Pool: pool, Sender: sender, Faucet: weth, Amount: 42, Type: ledger.NotePublic,
	})
	require.NoError(t, err)

	w := &mockWallet{}
	w.On("RequestTransaction", mock.Anything, mock.Anything).Return("tx-w", nil)
	relay := &mockRelay{}

	_, err = f.submitter(WithRelay(relay)).Submit(context.Background(), compiled, w)
	require.NoError(t, err)
	relay.AssertNotCalled(t, "SubmitPrivateNote", mock.Anything, mock.Anything, mock.Anything)
	assert.Zero(t, f.clock.Pending())
}
