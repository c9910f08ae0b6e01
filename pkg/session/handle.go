package session

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/uhyunpark/noteswap/pkg/ledger"
)

var (
	// ErrClientUnavailable means no ledger client is installed. Callers treat it
	// as "nothing to do yet".
	ErrClientUnavailable = errors.New("ledger client unavailable")
	// ErrReentrant is returned when an exclusive operation tries to enter the
	// gate it is already running under.
	ErrReentrant = errors.New("nested exclusive ledger access")
)

type gateKey struct{}

// Handle is the shared access point to the single ledger client. At most one
// operation runs against the client at a time; waiters are admitted in FIFO order.
type Handle struct {
	sem *semaphore.Weighted

	mu     sync.RWMutex
	client ledger.Client
}

func NewHandle() *Handle {
	return &Handle{sem: semaphore.NewWeighted(1)}
}

// Install makes c the client served by the gate.
func (h *Handle) Install(c ledger.Client) {
	h.mu.Lock()
	h.client = c
	h.mu.Unlock()
}

// Reset uninstalls the client. Operations already inside the gate finish with
// the client they started with.
func (h *Handle) Reset() { h.Install(nil) }

func (h *Handle) Installed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.client != nil
}

func (h *Handle) current() ledger.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.client
}

// Exclusive runs op with sole access to the client and returns its result.
//
// ctx bounds only the wait for the gate. Once op starts it runs to completion
// with a context detached from ctx's cancellation. op must not call Exclusive
// on the same handle; such a call fails with ErrReentrant.
func Exclusive[T any](ctx context.Context, h *Handle, op func(ctx context.Context, c ledger.Client) (T, error)) (T, error) {
	var zero T
	if owner, _ := ctx.Value(gateKey{}).(*Handle); owner == h {
		return zero, ErrReentrant
	}
	if h.current() == nil {
		return zero, ErrClientUnavailable
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer h.sem.Release(1)

	c := h.current()
	if c == nil {
		return zero, ErrClientUnavailable
	}
	inner := context.WithValue(context.WithoutCancel(ctx), gateKey{}, h)
	return op(inner, c)
}

// Do is Exclusive for operations without a result.
func (h *Handle) Do(ctx context.Context, op func(ctx context.Context, c ledger.Client) error) error {
	_, err := Exclusive(ctx, h, func(ctx context.Context, c ledger.Client) (struct{}, error) {
		return struct{}{}, op(ctx, c)
	})
	return err
}
