// Package submit hands compiled notes to the wallet and keeps the local ledger
// view in step around each submission.
package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/noteswap/pkg/channel"
	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/metrics"
	"github.com/uhyunpark/noteswap/pkg/notes"
	"github.com/uhyunpark/noteswap/pkg/orders"
	"github.com/uhyunpark/noteswap/pkg/session"
	"github.com/uhyunpark/noteswap/pkg/util"
)

const DefaultRelayDelay = 10 * time.Second

var (
	// ErrSubmissionRejected wraps whatever the wallet or the network said.
	ErrSubmissionRejected = errors.New("submission rejected")
	// ErrRelayFailed means the transaction went through but the private note
	// did not reach the operator.
	ErrRelayFailed = errors.New("private note relay failed")
)

// Wallet authorizes and submits a transaction request, returning its id.
type Wallet interface {
	RequestTransaction(ctx context.Context, req *ledger.TransactionRequest) (string, error)
}

// Relay delivers private notes to the pool operator.
type Relay interface {
	SubmitPrivateNote(ctx context.Context, kind string, note []byte) error
}

// Expecter is told how many inbound notes a submission promises.
type Expecter interface {
	Expect(n int)
}

// Subscriber follows order status on the push channel.
type Subscriber interface {
	Subscribe(subs ...channel.Subscription)
}

type Journal interface {
	Append(line string)
}

// Result is all that survives a submission.
type Result struct {
	TxID   string        `json:"tx_id"`
	NoteID ledger.NoteID `json:"note_id"`
}

type Submitter struct {
	session    *session.Session
	relay      Relay
	expecter   Expecter
	subscriber Subscriber
	tracker    *orders.Tracker
	journal    Journal
	clock      util.Clock
	relayDelay time.Duration
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
}

type Option func(*Submitter)

func WithRelay(r Relay) Option               { return func(s *Submitter) { s.relay = r } }
func WithExpecter(e Expecter) Option         { return func(s *Submitter) { s.expecter = e } }
func WithSubscriber(sub Subscriber) Option   { return func(s *Submitter) { s.subscriber = sub } }
func WithTracker(t *orders.Tracker) Option   { return func(s *Submitter) { s.tracker = t } }
func WithJournal(j Journal) Option           { return func(s *Submitter) { s.journal = j } }
func WithClock(c util.Clock) Option          { return func(s *Submitter) { s.clock = c } }
func WithRelayDelay(d time.Duration) Option  { return func(s *Submitter) { s.relayDelay = d } }
func WithLogger(l *zap.SugaredLogger) Option { return func(s *Submitter) { s.logger = l } }
func WithMetrics(m *metrics.Metrics) Option  { return func(s *Submitter) { s.metrics = m } }

func New(sess *session.Session, opts ...Option) *Submitter {
	s := &Submitter{
		session:    sess,
		clock:      util.RealClock{},
		relayDelay: DefaultRelayDelay,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = util.OrNop(s.logger).With("component", "submit")
	return s
}

// Submit sends one compiled note through wallet.
//
// The pre and post syncs run through the gate and the sync throttle; the
// wallet call runs outside the gate since it may wait on the user. Nothing is
// recorded unless the wallet accepts the transaction.
func (s *Submitter) Submit(ctx context.Context, compiled *notes.Compiled, wallet Wallet) (Result, error) {
	if compiled == nil || compiled.Note == nil {
		return Result{}, fmt.Errorf("submit: no note")
	}
	if wallet == nil {
		return Result{}, fmt.Errorf("submit: no wallet")
	}
	req := &ledger.TransactionRequest{
		Account:      compiled.Sender,
		Counterparty: compiled.Pool,
		OutputNotes:  []ledger.Note{*compiled.Note},
	}
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	kind := string(compiled.Kind)

	if _, err := s.session.SyncState(ctx); err != nil {
		s.metrics.Submission(kind, "failed")
		return Result{}, fmt.Errorf("pre-submission sync: %w", err)
	}

	txID, err := wallet.RequestTransaction(ctx, req)
	if err != nil {
		s.metrics.Submission(kind, "rejected")
		s.logger.Warnw("submission_rejected", "kind", kind, "note_id", compiled.NoteID, "err", err)
		return Result{}, fmt.Errorf("%w: %w", ErrSubmissionRejected, err)
	}

	// The transaction is on its way; a failed refresh only delays what the
	// local view shows.
	if _, err := s.session.SyncState(ctx); err != nil {
		s.logger.Warnw("post_submission_sync_failed", "tx_id", txID, "err", err)
	}

	res := Result{TxID: txID, NoteID: compiled.NoteID}
	s.record(compiled, res)
	s.metrics.Submission(kind, "ok")
	s.logger.Infow("note_submitted", "kind", kind, "tx_id", txID, "note_id", compiled.NoteID)

	if compiled.Note.Metadata.Type == ledger.NotePrivate && compiled.Kind != notes.KindSwap {
		if err := s.relayPrivate(ctx, compiled); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Submitter) record(compiled *notes.Compiled, res Result) {
	final := false
	if s.tracker != nil {
		final = s.tracker.Track(orders.Kind(compiled.Kind), res.NoteID, res.TxID).Status.Terminal()
	}
	if s.subscriber != nil && !final {
		s.subscriber.Subscribe(channel.OrderUpdates(res.NoteID.String()))
	}
	// Swaps and withdrawals pay out with a note the account has to claim.
	if s.expecter != nil && compiled.Kind != notes.KindDeposit {
		s.expecter.Expect(1)
	}
	if s.journal != nil {
		s.journal.Append(fmt.Sprintf("%d submitted kind=%s note=%s tx=%s",
			s.clock.Now().UnixMilli(), compiled.Kind, res.NoteID, res.TxID))
	}
}

// relayPrivate waits for the transaction to land, then hands the note body to
// the operator, who cannot see private notes on the ledger.
func (s *Submitter) relayPrivate(ctx context.Context, compiled *notes.Compiled) error {
	if s.relay == nil {
		return fmt.Errorf("%w: no relay configured", ErrRelayFailed)
	}
	data, err := compiled.Note.Serialize()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRelayFailed, err)
	}
	if s.relayDelay > 0 {
		select {
		case <-s.clock.After(s.relayDelay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrRelayFailed, ctx.Err())
		}
	}
	if err := s.relay.SubmitPrivateNote(ctx, string(compiled.Kind), data); err != nil {
		s.logger.Errorw("private_relay_failed", "kind", compiled.Kind, "note_id", compiled.NoteID, "err", err)
		return fmt.Errorf("%w: %w", ErrRelayFailed, err)
	}
	return nil
}
