// Package publish owns the outbound message queue for one broker side.
package publish

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/edgelink/gateway/pkg/buffer"
	"github.com/edgelink/gateway/persistence"
	"github.com/edgelink/gateway/wire"
)

// Publisher is the narrow broker surface the service needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// RetryDelay is how long the publish loop sleeps after a failed publish
// attempt before retrying the same head-of-queue item.
const RetryDelay = 1 * time.Second

// Service owns the pending-message queue for one broker side: messages
// enqueued via AddMessage are published strictly FIFO once the broker is
// connected, and on publish failure the head item is retried rather than
// dropped or reordered. Cross-side ordering is not guaranteed.
type Service struct {
	side      string
	queue     buffer.Buffer[wire.PublishedMessage]
	store     persistence.Store
	publisher Publisher
	qos       byte
	retained  bool
	logger    *slog.Logger

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithQoS sets the MQTT QoS level used for every published message.
// Defaults to 0.
func WithQoS(qos byte) Option {
	return func(s *Service) { s.qos = qos }
}

// WithRetained marks every published message retained. Defaults to false.
func WithRetained(retained bool) Option {
	return func(s *Service) { s.retained = retained }
}

// WithLogger sets the service's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates a publishing Service for one broker side. capacity and
// policy govern the in-memory queue: the platform side uses
// buffer.Block (never silently drop) with a sqlite-backed store; the
// device side uses buffer.DropOldest with persistence.NoopStore, since
// the device broker is expected to be present.
func New(side string, capacity int, policy buffer.OverflowPolicy, store persistence.Store, publisher Publisher, opts ...Option) (*Service, error) {
	queue, err := buffer.NewCircularBuffer[wire.PublishedMessage](capacity, buffer.WithOverflowPolicy[wire.PublishedMessage](policy))
	if err != nil {
		return nil, err
	}

	s := &Service{
		side:      side,
		queue:     queue,
		store:     store,
		publisher: publisher,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Restore loads any messages persisted from a previous run back into
// the in-memory queue. Call once during startup, before Connected.
func (s *Service) Restore(ctx context.Context) error {
	pending, err := s.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, msg := range pending {
		if err := s.queue.Write(msg); err != nil {
			s.logger.Warn("failed to requeue persisted message", "side", s.side, "error", err)
		}
	}
	return nil
}

// AddMessage enqueues msg for publishing. While the broker is
// disconnected the message simply waits in the queue; on the platform
// side it is also durably persisted so it survives a restart.
func (s *Service) AddMessage(ctx context.Context, channel, content string) error {
	msg := wire.PublishedMessage{Channel: channel, Content: content, EnqueuedAt: time.Now()}

	saved, err := s.store.Save(ctx, msg)
	if err != nil {
		return err
	}

	return s.queue.Write(saved)
}

// Connected starts draining the queue in FIFO order. Call from the
// broker's on-connect callback.
func (s *Service) Connected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return
	}
	s.connected = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.drain(ctx)
}

// Disconnected stops the drain loop. Queued messages are untouched and
// resume publishing once Connected is called again.
func (s *Service) Disconnected() {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	if s.cancel != nil {
		s.cancel()
	}
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (s *Service) drain(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, ok := s.queue.Peek()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		if err := s.publisher.Publish(msg.Channel, s.qos, s.retained, []byte(msg.Content)); err != nil {
			s.logger.Warn("publish failed, retrying head of queue", "side", s.side, "channel", msg.Channel, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(RetryDelay):
			}
			continue
		}

		s.queue.Read()
		if err := s.store.Remove(ctx, msg.ID); err != nil {
			s.logger.Warn("failed to remove persisted message after publish", "side", s.side, "id", msg.ID, "error", err)
		}
	}
}

// Close stops the drain loop and releases the in-memory queue.
func (s *Service) Close() error {
	s.Disconnected()
	return s.queue.Close()
}
