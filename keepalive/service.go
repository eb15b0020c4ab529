// Package keepalive publishes periodic pings toward the platform and
// records the platform's reported timestamp from each response, used
// to stamp readings that arrive with a zero (server-stamped) timestamp.
package keepalive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edgelink/gateway/pkg/timestamp"
	"github.com/edgelink/gateway/protocol"
	"github.com/edgelink/gateway/protocol/topics"
)

// DefaultInterval is the ping period used when not overridden by
// configuration.
const DefaultInterval = 60 * time.Second

type pingResponsePayload struct {
	Timestamp int64 `json:"timestamp"`
}

// Service pings the platform on a fixed interval and tracks the most
// recently reported platform timestamp.
type Service struct {
	gatewayKey string
	interval   time.Duration
	out        protocol.Outbound
	logger     *slog.Logger

	mu                    sync.Mutex
	lastPlatformTimestamp time.Time
	cancel                context.CancelFunc
	done                  chan struct{}
}

// New creates a Service. interval <= 0 uses DefaultInterval.
func New(gatewayKey string, interval time.Duration, out protocol.Outbound, logger *slog.Logger) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gatewayKey: gatewayKey, interval: interval, out: out, logger: logger}
}

// Start begins the periodic ping loop. It is a no-op if already
// running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.loop(loopCtx, done)
}

// Stop ends the ping loop and waits for it to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Service) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ping(ctx); err != nil {
				s.logger.Warn("keepalive ping failed", "error", err)
			}
		}
	}
}

func (s *Service) ping(ctx context.Context) error {
	return s.out.Publish(ctx, topics.Ping(s.gatewayKey), nil)
}

// HandlePingResponse records the platform's reported timestamp.
func (s *Service) HandlePingResponse(_ context.Context, payload []byte) error {
	var resp pingResponsePayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("keepalive: decode ping response: %w", err)
	}

	s.mu.Lock()
	s.lastPlatformTimestamp = timestamp.FromUnixMs(resp.Timestamp)
	s.mu.Unlock()
	return nil
}

// PlatformTimestamp returns the most recently recorded platform
// timestamp and whether one has been recorded yet.
func (s *Service) PlatformTimestamp() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPlatformTimestamp, !s.lastPlatformTimestamp.IsZero()
}
