// Package status implements the device status service: last-will
// based gateway presence, per-device online/offline tracking forwarded
// to the platform, and a reconnect hook other services can subscribe
// to.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/edgelink/gateway/health"
	"github.com/edgelink/gateway/protocol"
	"github.com/edgelink/gateway/protocol/topics"
)

// GatewayModule is the health.Monitor component name the gateway's own
// connectivity status is tracked under.
const GatewayModule = "gateway"

type statusPayload struct {
	Online bool `json:"online"`
}

// Service tracks the gateway's own connectivity and every known child
// device's online state, forwarding device transitions to the
// platform and aggregating gateway health from a health.Monitor.
type Service struct {
	gatewayKey string
	monitor    *health.Monitor
	out        protocol.Outbound
	logger     *slog.Logger

	mu          sync.Mutex
	online      map[string]bool
	onReconnect []func()
}

// New creates a Service. out publishes toward the platform broker.
func New(gatewayKey string, monitor *health.Monitor, out protocol.Outbound, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gatewayKey: gatewayKey,
		monitor:    monitor,
		out:        out,
		logger:     logger,
		online:     make(map[string]bool),
	}
}

// OnReconnect registers a hook invoked every time Connected fires.
func (s *Service) OnReconnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnect = append(s.onReconnect, fn)
}

// Connected marks the gateway module healthy, publishes an online
// last-will presence message, and fires every registered reconnect
// hook. Called from the platform broker client's OnConnect handler.
func (s *Service) Connected(ctx context.Context) error {
	s.monitor.UpdateHealthy(GatewayModule, "connected to platform broker")

	s.mu.Lock()
	hooks := append([]func(){}, s.onReconnect...)
	s.mu.Unlock()
	for _, hook := range hooks {
		hook()
	}

	return s.publishPresence(ctx, true)
}

// Disconnected marks the gateway module unhealthy. The broker-native
// last-will message handles notifying the platform; no publish is
// attempted here since the connection is down.
func (s *Service) Disconnected() {
	s.monitor.UpdateUnhealthy(GatewayModule, "disconnected from platform broker")
}

func (s *Service) publishPresence(ctx context.Context, online bool) error {
	body, err := json.Marshal(statusPayload{Online: online})
	if err != nil {
		return fmt.Errorf("status: marshal presence: %w", err)
	}
	return s.out.Publish(ctx, topics.LastWill(s.gatewayKey), body)
}

// DeviceOnline records deviceKey as online and forwards the transition
// to the platform, if it was not already known to be online.
func (s *Service) DeviceOnline(ctx context.Context, deviceKey string) error {
	return s.setDeviceOnline(ctx, deviceKey, true)
}

// DeviceOffline records deviceKey as offline and forwards the
// transition to the platform, if it was not already known to be
// offline.
func (s *Service) DeviceOffline(ctx context.Context, deviceKey string) error {
	return s.setDeviceOnline(ctx, deviceKey, false)
}

func (s *Service) setDeviceOnline(ctx context.Context, deviceKey string, online bool) error {
	s.mu.Lock()
	was, known := s.online[deviceKey]
	s.online[deviceKey] = online
	s.mu.Unlock()

	if known && was == online {
		return nil
	}

	s.monitor.Update(deviceKey, healthStatus(deviceKey, online))

	body, err := json.Marshal(statusPayload{Online: online})
	if err != nil {
		return fmt.Errorf("status: marshal device status: %w", err)
	}
	return s.out.Publish(ctx, topics.DeviceStatus(s.gatewayKey, deviceKey), body)
}

func healthStatus(component string, online bool) health.Status {
	if online {
		return health.NewHealthy(component, "device online")
	}
	return health.NewUnhealthy(component, "device offline")
}

// IsDeviceOnline reports the last known online state of deviceKey.
func (s *Service) IsDeviceOnline(deviceKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[deviceKey]
}

// GatewayStatus returns the aggregated gateway module health.
func (s *Service) GatewayStatus() health.Status {
	status, _ := s.monitor.Get(GatewayModule)
	return status
}
