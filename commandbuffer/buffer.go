// Package commandbuffer serializes state mutations for one broker side
// behind a single-consumer FIFO of closures.
package commandbuffer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/edgelink/gateway/pkg/retry"
	"github.com/edgelink/gateway/pkg/worker"
)

// Buffer is a single-consumer FIFO of closures, one per broker side. It
// serializes every state mutation for services bound to that side, so
// those services need internal locking only where they're also touched
// from the other side (repository, file store).
type Buffer struct {
	pool   *worker.Pool[func()]
	logger *slog.Logger
}

// New creates a Buffer backed by a worker.Pool configured with exactly
// one worker so pushed closures run strictly in submission order.
func New(queueSize int, logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	processor := func(_ context.Context, fn func()) error {
		fn()
		return nil
	}
	return &Buffer{
		pool:   worker.NewPool(1, queueSize, processor),
		logger: logger,
	}
}

// Start launches the consumer goroutine. Call once before Push.
func (b *Buffer) Start(ctx context.Context) error {
	return b.pool.Start(ctx)
}

// Stop drains in-flight work and stops the consumer goroutine.
func (b *Buffer) Stop(timeout time.Duration) error {
	return b.pool.Stop(timeout)
}

// Push enqueues fn for sequential execution on the consumer goroutine.
// Unlike worker.Pool's default drop-on-full semantics (fine for
// telemetry), command-buffer work such as registrations and firmware
// transitions must not be silently dropped: a full buffer retries
// Submit with pkg/retry.Quick() instead of failing immediately.
func (b *Buffer) Push(fn func()) error {
	return b.Submit(fn)
}

// Submit implements inbound.Submitter so a Buffer can back a
// broker-side inbound.Handler directly.
func (b *Buffer) Submit(fn func()) error {
	err := retry.Do(context.Background(), retry.Quick(), func() error {
		err := b.pool.Submit(fn)
		if errors.Is(err, worker.ErrQueueFull) {
			return err
		}
		if err != nil {
			return retry.NonRetryable(err)
		}
		return nil
	})
	if err != nil {
		b.logger.Warn("command buffer push failed", "error", err)
	}
	return err
}

// Stats exposes the underlying pool's queue depth and counters.
func (b *Buffer) Stats() worker.PoolStats {
	return b.pool.Stats()
}
