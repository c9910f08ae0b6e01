// Package reconcile tracks how many inbound notes the acting account is still
// waiting for and lets it claim whatever has arrived.
//
// Arrivals are not attributed to the action that caused them: the reconciler
// only compares an aggregate expected count against the number of consumable
// notes it observes, which is enough for the "still waiting" indicator to
// reach zero once everything has landed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/metrics"
	"github.com/uhyunpark/noteswap/pkg/session"
	"github.com/uhyunpark/noteswap/pkg/submit"
	"github.com/uhyunpark/noteswap/pkg/util"
)

const DefaultInterval = 3 * time.Second

var (
	// ErrReconciliationSkipped is returned by a tick that overlapped another
	// tick or a claim. It is dropped, not retried.
	ErrReconciliationSkipped = errors.New("reconciliation skipped")
	ErrClaimInProgress       = errors.New("claim already in progress")
)

type ClaimResult struct {
	Claimed int    `json:"claimed"`
	TxID    string `json:"tx_id,omitempty"`
}

type Reconciler struct {
	session  *session.Session
	interval time.Duration
	clock    util.Clock
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics

	mu           sync.Mutex
	expected     int
	lastObserved int // -1 until the first observation
	ticking      bool
	claiming     bool
	listeners    map[int]func(waiting bool)
	nextID       int

	loopMu sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func New(sess *session.Session, interval time.Duration, clock util.Clock, logger *zap.SugaredLogger, m *metrics.Metrics) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Reconciler{
		session:      sess,
		interval:     interval,
		clock:        clock,
		logger:       util.OrNop(logger).With("component", "reconcile"),
		metrics:      m,
		lastObserved: -1,
		listeners:    make(map[int]func(bool)),
	}
}

// Expect records that n more inbound notes are on their way.
func (r *Reconciler) Expect(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	before := r.expected > 0
	r.expected += n
	r.metrics.SetExpectedNotes(r.expected)
	notify := r.changedLocked(before)
	r.mu.Unlock()
	notify()
}

// Pending returns the expected count and the last observed count of
// consumable notes (-1 before the first observation).
func (r *Reconciler) Pending() (expected, lastObserved int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expected, r.lastObserved
}

func (r *Reconciler) Waiting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expected > 0
}

// Claimable is the number of consumable notes seen by the last tick.
func (r *Reconciler) Claimable() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastObserved < 0 {
		return 0
	}
	return r.lastObserved
}

// OnChange registers fn to be called whenever Waiting flips.
func (r *Reconciler) OnChange(fn func(waiting bool)) (remove func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// Reset forgets every expectation, as on an account change.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	before := r.expected > 0
	r.expected = 0
	r.lastObserved = -1
	r.metrics.SetExpectedNotes(0)
	notify := r.changedLocked(before)
	r.mu.Unlock()
	notify()
}

// changedLocked returns a func notifying listeners if Waiting differs from before.
func (r *Reconciler) changedLocked(before bool) func() {
	now := r.expected > 0
	if now == before {
		return func() {}
	}
	fns := make([]func(bool), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(now)
		}
	}
}

// observe applies one measurement of the consumable-note count.
func (r *Reconciler) observe(current int) {
	r.mu.Lock()
	before := r.expected > 0
	if r.lastObserved >= 0 && current > r.lastObserved && r.expected > 0 {
		r.expected -= min(r.expected, current-r.lastObserved)
	}
	r.lastObserved = current
	r.metrics.SetExpectedNotes(r.expected)
	notify := r.changedLocked(before)
	r.mu.Unlock()
	notify()
}

// Tick counts the consumable notes through the gate and updates the expected
// count. A tick that overlaps another tick or a claim is skipped.
func (r *Reconciler) Tick(ctx context.Context) error {
	r.mu.Lock()
	if r.ticking || r.claiming {
		r.mu.Unlock()
		r.metrics.ReconcileTick("skipped")
		return ErrReconciliationSkipped
	}
	r.ticking = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.ticking = false
		r.mu.Unlock()
	}()
	return r.tick(ctx)
}

func (r *Reconciler) tick(ctx context.Context) error {
	notes, err := r.session.ConsumableNotes(ctx)
	if err != nil {
		r.metrics.ReconcileTick("failed")
		return err
	}
	r.observe(len(notes))
	r.metrics.ReconcileTick("ran")
	return nil
}

// Start runs Tick every interval until Stop or ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(ctx, r.stop, r.done)
}

func (r *Reconciler) Stop() {
	r.loopMu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.loopMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (r *Reconciler) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-r.clock.After(r.interval):
		}
		err := r.Tick(ctx)
		switch {
		case err == nil, errors.Is(err, ErrReconciliationSkipped):
		case errors.Is(err, session.ErrClientUnavailable), errors.Is(err, session.ErrNoSession):
			// Not signed in yet.
		default:
			r.logger.Warnw("reconcile_tick_failed", "err", err)
		}
	}
}

// Claim consumes every consumable note in a single transaction and reconciles
// right after. With nothing to claim it returns Claimed 0 and submits nothing.
func (r *Reconciler) Claim(ctx context.Context, wallet submit.Wallet) (ClaimResult, error) {
	r.mu.Lock()
	if r.claiming {
		r.mu.Unlock()
		return ClaimResult{}, ErrClaimInProgress
	}
	r.claiming = true
	r.mu.Unlock()

	res, err := r.claim(ctx, wallet)

	r.mu.Lock()
	r.claiming = false
	r.mu.Unlock()
	if err != nil || res.Claimed == 0 {
		return res, err
	}

	r.session.Throttle().Force()
	if err := r.Tick(ctx); err != nil && !errors.Is(err, ErrReconciliationSkipped) {
		r.logger.Warnw("post_claim_tick_failed", "err", err)
	}
	return res, nil
}

func (r *Reconciler) claim(ctx context.Context, wallet submit.Wallet) (ClaimResult, error) {
	account := r.session.Account()
	if account.IsZero() {
		return ClaimResult{}, session.ErrNoSession
	}
	notes, err := r.session.ConsumableNotes(ctx)
	if err != nil {
		return ClaimResult{}, err
	}
	r.observe(len(notes))
	if len(notes) == 0 {
		return ClaimResult{}, nil
	}

	ids := make([]ledger.NoteID, len(notes))
	for i, n := range notes {
		ids[i] = n.ID
	}
	req := &ledger.TransactionRequest{Account: account, InputNoteIDs: ids}
	txID, err := wallet.RequestTransaction(ctx, req)
	if err != nil {
		r.metrics.Submission("claim", "rejected")
		return ClaimResult{}, fmt.Errorf("%w: %w", submit.ErrSubmissionRejected, err)
	}
	r.metrics.Submission("claim", "ok")

	// The claimed notes are gone; what shows up next is new.
	r.mu.Lock()
	r.lastObserved = 0
	r.mu.Unlock()

	r.logger.Infow("notes_claimed", "count", len(ids), "tx_id", txID)
	return ClaimResult{Claimed: len(ids), TxID: txID}, nil
}
