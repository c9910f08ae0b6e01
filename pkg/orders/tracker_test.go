package orders

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/noteswap/pkg/channel"
	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/util"
)

type memStore struct {
	mu   sync.Mutex
	recs map[ledger.NoteID]Record
}

func (m *memStore) SaveOrder(rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recs == nil {
		m.recs = make(map[ledger.NoteID]Record)
	}
	m.recs[rec.NoteID] = *rec
	return nil
}

func (m *memStore) LoadOrders(account ledger.AccountID) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Record
	for _, r := range m.recs {
		if r.Account == account {
			cp := r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func newTracker(t *testing.T) (*Tracker, *memStore, ledger.AccountID) {
	t.Helper()
	store := &memStore{}
	tr := NewTracker(store, util.NewManualClock(time.UnixMilli(1_000)), nil)
	acc, err := ledger.NewAccountID(10, 20)
	require.NoError(t, err)
	require.NoError(t, tr.Load(acc))
	return tr, store, acc
}

func update(id ledger.NoteID, status channel.OrderStatus, ts int64) *channel.OrderUpdate {
	return &channel.OrderUpdate{Type: channel.TypeOrderUpdate, NoteID: id.String(), Status: status, Timestamp: ts}
}

func TestTracker_ForwardTransitionsOnly(t *testing.T) {
	tr, _, _ := newTracker(t)
	id := ledger.NoteID{0xaa}
	tr.Track(KindSwap, id, "tx-1")

	assert.True(t, tr.Apply(update(id, channel.StatusMatching, 2_000)))
	assert.False(t, tr.Apply(update(id, channel.StatusPending, 3_000)), "backward transition ignored")

	rec, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, channel.StatusMatching, rec.Status)
	assert.Equal(t, "tx-1", rec.TxID)

	assert.True(t, tr.Apply(update(id, channel.StatusExecuted, 4_000)))
	assert.False(t, tr.Apply(update(id, channel.StatusFailed, 5_000)), "terminal is final")

	rec, _ = tr.Get(id)
	assert.Equal(t, channel.StatusExecuted, rec.Status)
	assert.Equal(t, int64(4_000), rec.UpdatedAt)
}

func TestTracker_UpdateBeforeTrackKeepsStatus(t *testing.T) {
	tr, _, _ := newTracker(t)
	id := ledger.NoteID{0xbb}

	tr.HandleMessage(update(id, channel.StatusPending, 1_500))
	rec := tr.Track(KindDeposit, id, "tx-2")
	assert.Equal(t, channel.StatusPending, rec.Status)
	assert.Equal(t, KindDeposit, rec.Kind)
	assert.Equal(t, "tx-2", rec.TxID)
}

func TestTracker_PersistsAndReloads(t *testing.T) {
	tr, store, acc := newTracker(t)
	id := ledger.NoteID{0xcc}
	tr.Track(KindWithdraw, id, "tx-3")
	tr.Apply(update(id, channel.StatusExpired, 9_000))

	other := NewTracker(store, nil, nil)
	require.NoError(t, other.Load(acc))
	rec, ok := other.Get(id)
	require.True(t, ok)
	assert.Equal(t, channel.StatusExpired, rec.Status)

	other.Reset()
	assert.Empty(t, other.List())
}

func TestTracker_WatchAndList(t *testing.T) {
	tr, _, _ := newTracker(t)
	var seen []channel.OrderStatus
	remove := tr.Watch(func(r Record) { seen = append(seen, r.Status) })

	tr.Track(KindSwap, ledger.NoteID{1}, "a")
	tr.Apply(update(ledger.NoteID{1}, channel.StatusPending, 2_000))
	remove()
	tr.Apply(update(ledger.NoteID{1}, channel.StatusExecuted, 3_000))

	assert.Equal(t, []channel.OrderStatus{channel.StatusCreated, channel.StatusPending}, seen)
	assert.Len(t, tr.List(), 1)
}

func TestTracker_BadNoteIDIgnored(t *testing.T) {
	tr, _, _ := newTracker(t)
	assert.False(t, tr.Apply(&channel.OrderUpdate{NoteID: "zz", Status: channel.StatusPending}))
	assert.Empty(t, tr.List())
}

func TestTracker_ReleaseTerminalUnsubscribes(t *testing.T) {
	tr, _, _ := newTracker(t)
	ch, err := channel.New(channel.DefaultConfig("ws://unused"), nil, nil, nil)
	require.NoError(t, err)
	remove := tr.ReleaseTerminal(ch)
	defer remove()

	done, open := ledger.NoteID{0x01}, ledger.NoteID{0x02}
	ch.Subscribe(channel.OrderUpdates(done.String()), channel.OrderUpdates(open.String()), channel.Stats())
	tr.Track(KindSwap, done, "tx-1")
	tr.Track(KindWithdraw, open, "tx-2")

	require.True(t, tr.Apply(update(done, channel.StatusMatching, 2)))
	assert.Contains(t, ch.Subscriptions(), channel.OrderUpdates(done.String()))

	require.True(t, tr.Apply(update(done, channel.StatusExecuted, 3)))
	require.True(t, tr.Apply(update(open, channel.StatusPending, 3)))

	subs := ch.Subscriptions()
	assert.NotContains(t, subs, channel.OrderUpdates(done.String()))
	assert.Contains(t, subs, channel.OrderUpdates(open.String()))
	assert.Contains(t, subs, channel.Stats())
}
