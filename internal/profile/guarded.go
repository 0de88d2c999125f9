package profile

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/DukeRupert/tandem/internal/metrics"
)

// DefaultTimeout bounds each remote call.
const DefaultTimeout = 2 * time.Second

// Guarded wraps a Store with a per-call timeout and a one-way circuit breaker.
//
// A timeout returns ErrTimeout and leaves the breaker closed. Any other error
// apart from ErrNotFound trips the breaker. Once tripped, every call returns
// ErrUnavailable without reaching the underlying store. There is no reset.
type Guarded struct {
	store   Store
	timeout time.Duration
	logger  *slog.Logger

	tripped atomic.Bool
}

// NewGuarded wraps store. A non-positive timeout selects DefaultTimeout.
func NewGuarded(store Store, timeout time.Duration, logger *slog.Logger) *Guarded {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Guarded{
		store:   store,
		timeout: timeout,
		logger:  logger,
	}
}

// Available reports whether the breaker is still closed.
func (g *Guarded) Available() bool {
	return !g.tripped.Load()
}

// Fetch calls the underlying store's Fetch under the guard.
func (g *Guarded) Fetch(ctx context.Context, uid string) (map[string]any, error) {
	var doc map[string]any
	err := g.call(ctx, "fetch", func(ctx context.Context) error {
		var err error
		doc, err = g.store.Fetch(ctx, uid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Upsert calls the underlying store's Upsert under the guard.
func (g *Guarded) Upsert(ctx context.Context, uid string, doc map[string]any) error {
	return g.call(ctx, "upsert", func(ctx context.Context) error {
		return g.store.Upsert(ctx, uid, doc)
	})
}

func (g *Guarded) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if g.tripped.Load() {
		metrics.RemoteStoreCall(op, "skipped")
		return ErrUnavailable
	}

	tctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	// The call runs on its own goroutine so a store that ignores ctx cannot
	// hold the caller past the timeout.
	done := make(chan error, 1)
	go func() { done <- fn(tctx) }()

	var err error
	select {
	case err = <-done:
	case <-tctx.Done():
		err = tctx.Err()
	}

	switch {
	case err == nil:
		metrics.RemoteStoreCall(op, "ok")
		return nil
	case errors.Is(err, ErrNotFound):
		metrics.RemoteStoreCall(op, "not_found")
		return ErrNotFound
	case ctx.Err() != nil:
		// Canceled by the caller; not a store failure.
		metrics.RemoteStoreCall(op, "canceled")
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) || tctx.Err() != nil:
		metrics.RemoteStoreCall(op, "timeout")
		g.logger.Warn("remote profile store timed out", "op", op, "timeout", g.timeout)
		return ErrTimeout
	}

	metrics.RemoteStoreCall(op, "error")
	if g.tripped.CompareAndSwap(false, true) {
		metrics.BreakerTripped()
		g.logger.Warn("remote profile store disabled for this session",
			"op", op,
			"error", err,
		)
	}
	return errors.Join(ErrUnavailable, err)
}
