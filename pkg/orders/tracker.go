// Package orders joins submitted notes with the order-status events pushed by
// the channel. Only the note id and transaction id of a submission are kept.
package orders

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/noteswap/pkg/channel"
	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/util"
)

// Kind is the user action that produced a note.
type Kind string

const (
	KindSwap     Kind = "swap"
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
	KindClaim    Kind = "claim"
)

// Record is the persisted trace of one submission.
type Record struct {
	NoteID    ledger.NoteID         `json:"note_id"`
	TxID      string                `json:"tx_id,omitempty"`
	Kind      Kind                  `json:"kind,omitempty"`
	Account   ledger.AccountID      `json:"account"`
	Status    channel.OrderStatus   `json:"status"`
	CreatedAt int64                 `json:"created_at"`
	UpdatedAt int64                 `json:"updated_at"`
	Details   *channel.OrderDetails `json:"details,omitempty"`
}

// Store persists records per account.
type Store interface {
	SaveOrder(rec *Record) error
	LoadOrders(account ledger.AccountID) ([]*Record, error)
}

// Tracker holds the order records of the active account.
type Tracker struct {
	mu       sync.RWMutex
	account  ledger.AccountID
	records  map[ledger.NoteID]*Record
	watchers map[int]func(Record)
	nextID   int

	store  Store
	clock  util.Clock
	logger *zap.SugaredLogger
}

func NewTracker(store Store, clock util.Clock, logger *zap.SugaredLogger) *Tracker {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Tracker{
		records:  make(map[ledger.NoteID]*Record),
		watchers: make(map[int]func(Record)),
		store:    store,
		clock:    clock,
		logger:   util.OrNop(logger),
	}
}

// Load switches the tracker to account and restores its persisted records.
func (t *Tracker) Load(account ledger.AccountID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.account = account
	t.records = make(map[ledger.NoteID]*Record)
	if t.store == nil {
		return nil
	}
	recs, err := t.store.LoadOrders(account)
	if err != nil {
		return err
	}
	for _, r := range recs {
		t.records[r.NoteID] = r
	}
	return nil
}

// Reset forgets the active account. Persisted records are kept.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.account = ledger.AccountID{}
	t.records = make(map[ledger.NoteID]*Record)
}

// Track registers a freshly submitted note in the created state.
func (t *Tracker) Track(kind Kind, noteID ledger.NoteID, txID string) Record {
	now := t.clock.Now().UnixMilli()
	t.mu.Lock()
	rec := &Record{
		NoteID:    noteID,
		TxID:      txID,
		Kind:      kind,
		Account:   t.account,
		Status:    channel.StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing, ok := t.records[noteID]; ok && existing.Status.Rank() > rec.Status.Rank() {
		// A status event raced ahead of the submission result.
		existing.TxID = txID
		existing.Kind = kind
		rec = existing
	} else {
		t.records[noteID] = rec
	}
	out := *rec
	t.mu.Unlock()

	t.persist(&out)
	t.notify(out)
	return out
}

// Apply folds an order update into the record keyed by its note id. Updates that
// would move a record backwards, or out of a terminal state, are ignored.
func (t *Tracker) Apply(u *channel.OrderUpdate) bool {
	noteID, err := ledger.ParseDigest(u.NoteID)
	if err != nil {
		t.logger.Warnw("order_update_bad_note_id", "note_id", u.NoteID, "err", err)
		return false
	}

	t.mu.Lock()
	rec, ok := t.records[noteID]
	if !ok {
		rec = &Record{NoteID: noteID, Account: t.account, Status: channel.StatusCreated, CreatedAt: u.Timestamp}
		t.records[noteID] = rec
	}
	if rec.Status.Terminal() || u.Status.Rank() < rec.Status.Rank() {
		t.mu.Unlock()
		t.logger.Debugw("order_update_ignored", "note_id", u.NoteID, "have", rec.Status, "got", u.Status)
		return false
	}
	rec.Status = u.Status
	rec.UpdatedAt = u.Timestamp
	details := u.Details
	rec.Details = &details
	out := *rec
	t.mu.Unlock()

	t.logger.Infow("order_status", "note_id", u.NoteID, "status", u.Status)
	t.persist(&out)
	t.notify(out)
	return true
}

// HandleMessage is a channel listener.
func (t *Tracker) HandleMessage(msg channel.Message) {
	if u, ok := msg.(*channel.OrderUpdate); ok {
		t.Apply(u)
	}
}

func (t *Tracker) Get(noteID ledger.NoteID) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[noteID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// List returns records newest first.
func (t *Tracker) List() []Record {
	t.mu.RLock()
	out := make([]Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, *r)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].NoteID.String() < out[j].NoteID.String()
	})
	return out
}

// Watch registers fn for every record change. The returned func removes it.
func (t *Tracker) Watch(fn func(Record)) (remove func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.watchers[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.watchers, id)
		t.mu.Unlock()
	}
}

// Unsubscriber drops push-channel subscriptions.
type Unsubscriber interface {
	Unsubscribe(subs ...channel.Subscription)
}

// ReleaseTerminal drops the order-update subscription of every record that
// reaches a terminal state. The returned func stops it.
func (t *Tracker) ReleaseTerminal(ch Unsubscriber) (remove func()) {
	return t.Watch(func(rec Record) {
		if rec.Status.Terminal() {
			ch.Unsubscribe(channel.OrderUpdates(rec.NoteID.String()))
		}
	})
}

func (t *Tracker) notify(rec Record) {
	t.mu.RLock()
	fns := make([]func(Record), 0, len(t.watchers))
	for _, fn := range t.watchers {
		fns = append(fns, fn)
	}
	t.mu.RUnlock()
	for _, fn := range fns {
		fn(rec)
	}
}

func (t *Tracker) persist(rec *Record) {
	if t.store == nil || rec.Account.IsZero() {
		return
	}
	if err := t.store.SaveOrder(rec); err != nil {
		t.logger.Warnw("order_persist_failed", "note_id", rec.NoteID, "err", err)
	}
}
