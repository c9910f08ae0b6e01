package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/noteswap/pkg/ledger"
	"github.com/uhyunpark/noteswap/pkg/metrics"
	"github.com/uhyunpark/noteswap/pkg/util"
)

const DefaultSyncWindow = 1500 * time.Millisecond

// ThrottledSync refreshes ledger state at most once per window. It must only be
// called from inside the exclusive gate.
type ThrottledSync struct {
	window  time.Duration
	clock   util.Clock
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu      sync.Mutex
	limiter *rate.Limiter
	last    time.Time
}

func NewThrottledSync(window time.Duration, clock util.Clock, logger *zap.SugaredLogger, m *metrics.Metrics) *ThrottledSync {
	if window <= 0 {
		window = DefaultSyncWindow
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	return &ThrottledSync{
		window:  window,
		clock:   clock,
		logger:  util.OrNop(logger),
		metrics: m,
		limiter: rate.NewLimiter(rate.Every(window), 1),
	}
}

// SyncIfDue syncs when at least one window has passed since the last
// successful sync. It reports whether a sync was performed. A failed sync does
// not consume the window.
func (t *ThrottledSync) SyncIfDue(ctx context.Context, c ledger.Client) (bool, error) {
	now := t.clock.Now()
	t.mu.Lock()
	r := t.limiter.ReserveN(now, 1)
	if r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		t.mu.Unlock()
		t.metrics.SyncSkipped()
		return false, nil
	}
	t.mu.Unlock()

	summary, err := c.SyncState(ctx)
	if err != nil {
		t.mu.Lock()
		r.CancelAt(now)
		t.mu.Unlock()
		return false, fmt.Errorf("sync state: %w", err)
	}

	t.mu.Lock()
	t.last = now
	t.mu.Unlock()
	t.metrics.SyncPerformed()
	t.logger.Debugw("sync_performed",
		"block_num", summary.BlockNum,
		"elapsed_ms", t.clock.Now().Sub(now).Milliseconds(),
	)
	return true, nil
}

// Force makes the next SyncIfDue call sync regardless of the window.
func (t *ThrottledSync) Force() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiter = rate.NewLimiter(rate.Every(t.window), 1)
}

// Reset forgets the last sync, as on an account change.
func (t *ThrottledSync) Reset() {
	t.mu.Lock()
	t.last = time.Time{}
	t.mu.Unlock()
	t.Force()
}

// LastSync returns when the last successful sync started.
func (t *ThrottledSync) LastSync() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
