package registration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/edgelink/gateway/devicerepo"
	"github.com/edgelink/gateway/protocol"
	"github.com/edgelink/gateway/protocol/topics"
	"github.com/edgelink/gateway/wire"
)

// Repository is the narrow devicerepo surface the service needs.
type Repository interface {
	Save(ctx context.Context, device wire.Device) error
	Remove(ctx context.Context, deviceKey string) error
	FindByDeviceKey(ctx context.Context, key string) (wire.Device, bool, error)
	FindAllDeviceKeys(ctx context.Context) ([]string, error)
}

var _ Repository = (*devicerepo.Repository)(nil)

// payload is the default, reference wire shape for registration
// requests and responses: {deviceKey, password, template}.
type payload struct {
	DeviceKey string              `json:"deviceKey"`
	Password  string              `json:"password,omitempty"`
	Template  wire.DeviceTemplate `json:"template"`
}

type pendingRequest struct {
	correlationID string
	deviceKey     string
	password      string
	template      wire.DeviceTemplate
}

// Service implements the six device-registration rules (see package
// doc and DESIGN.md) against one gateway identity.
type Service struct {
	gatewayKey         string
	repo               Repository
	platform           protocol.Outbound
	device             protocol.Outbound
	onDeviceRegistered func(deviceKey string, isGateway bool)
	logger             *slog.Logger

	mu                sync.Mutex
	gatewayRegistered bool
	pendingDevices    []pendingRequest
	awaitingResponse  map[string]pendingRequest
}

// New creates a registration Service. platform publishes toward the
// platform broker; device publishes toward the device broker (used to
// fan out reregistration messages to children).
func New(gatewayKey string, repo Repository, platform, device protocol.Outbound, onDeviceRegistered func(string, bool), logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if onDeviceRegistered == nil {
		onDeviceRegistered = func(string, bool) {}
	}
	return &Service{
		gatewayKey:         gatewayKey,
		repo:               repo,
		platform:           platform,
		device:             device,
		onDeviceRegistered: onDeviceRegistered,
		logger:             logger,
		awaitingResponse:   make(map[string]pendingRequest),
	}
}

// HandleDeviceRequest processes a registration request originating
// from the device side (rules 1-3).
func (s *Service) HandleDeviceRequest(ctx context.Context, deviceKey, password string, tmpl wire.DeviceTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, found, err := s.repo.FindByDeviceKey(ctx, deviceKey); err != nil {
		return err
	} else if found && existing.Template.Digest() == tmpl.Digest() {
		// Rule 3: identical template already registered, nothing to do.
		return nil
	}

	req := pendingRequest{correlationID: uuid.NewString(), deviceKey: deviceKey, password: password, template: tmpl}

	isGateway := deviceKey == s.gatewayKey
	if !isGateway && !s.gatewayRegistered {
		// Rule 1: buffer until the gateway itself is registered.
		s.pendingDevices = append(s.pendingDevices, req)
		s.logger.Info("buffering device registration until gateway registers", "device", deviceKey)
		return nil
	}

	// Rule 2 (gateway) / rule 1 fallthrough (gateway already registered):
	// forward immediately.
	s.awaitingResponse[req.deviceKey] = req
	return s.forwardToPlatform(ctx, req)
}

// forwardToPlatform marshals and publishes req. Callers must have
// already recorded req in awaitingResponse while holding s.mu; this
// method does not touch shared state, so it is safe to call without
// the lock held (avoiding a lock held across a possibly-blocking
// publish).
func (s *Service) forwardToPlatform(ctx context.Context, req pendingRequest) error {
	body, err := json.Marshal(payload{DeviceKey: req.deviceKey, Password: req.password, Template: req.template})
	if err != nil {
		return fmt.Errorf("registration: marshal request: %w", err)
	}
	s.logger.Info("forwarding registration request", "correlation_id", req.correlationID, "device", req.deviceKey)
	return s.platform.Publish(ctx, topics.RegisterDeviceFromDevice(s.gatewayKey), body)
}

// HandlePlatformResponse processes the platform's successful
// registration response for deviceKey (rule 4). On the gateway's own
// response it also flushes any device requests buffered under rule 1.
func (s *Service) HandlePlatformResponse(ctx context.Context, deviceKey, password string, tmpl wire.DeviceTemplate) error {
	s.mu.Lock()
	delete(s.awaitingResponse, deviceKey)
	isGateway := deviceKey == s.gatewayKey

	var toFlush []pendingRequest
	if isGateway && !s.gatewayRegistered {
		s.gatewayRegistered = true
		toFlush = s.pendingDevices
		s.pendingDevices = nil
		for _, req := range toFlush {
			s.awaitingResponse[req.deviceKey] = req
		}
	}
	s.mu.Unlock()

	if err := s.repo.Save(ctx, wire.Device{Key: deviceKey, Password: password, Template: tmpl}); err != nil {
		return fmt.Errorf("registration: save device: %w", err)
	}

	s.onDeviceRegistered(deviceKey, isGateway)

	for _, req := range toFlush {
		if err := s.forwardToPlatform(ctx, req); err != nil {
			s.logger.Warn("failed to flush buffered registration", "device", req.deviceKey, "error", err)
		}
	}
	return nil
}

// ReregisterAll handles a platform-initiated reregisterAll request
// (rule 5): publishes a reregistration message on every child device's
// topic, then acknowledges the platform.
func (s *Service) ReregisterAll(ctx context.Context) error {
	keys, err := s.repo.FindAllDeviceKeys(ctx)
	if err != nil {
		return err
	}

	for _, key := range keys {
		if key == s.gatewayKey {
			continue
		}
		if err := s.device.Publish(ctx, topics.RegisterDeviceFromPlatform(s.gatewayKey, key), nil); err != nil {
			s.logger.Warn("failed to fan out reregistration", "device", key, "error", err)
		}
	}

	return s.platform.Publish(ctx, topics.RegisterDeviceFromDevice(s.gatewayKey), []byte(`{"ack":"reregisterAll"}`))
}

// DeleteDevicesOtherThan removes every device not named in keep from
// the repository (rule 6). Removing the gateway itself removes every
// device regardless of what else keep names. For each removed device a
// deletion request is sent to the platform.
func (s *Service) DeleteDevicesOtherThan(ctx context.Context, keep map[string]bool) error {
	keys, err := s.repo.FindAllDeviceKeys(ctx)
	if err != nil {
		return err
	}

	removingGateway := !keep[s.gatewayKey]

	for _, key := range keys {
		if !removingGateway && keep[key] {
			continue
		}
		if err := s.repo.Remove(ctx, key); err != nil {
			s.logger.Warn("failed to remove device", "device", key, "error", err)
			continue
		}
		body, err := json.Marshal(map[string]string{"deviceKey": key})
		if err != nil {
			return fmt.Errorf("registration: marshal deletion: %w", err)
		}
		if err := s.platform.Publish(ctx, topics.RegisterDeviceFromDevice(s.gatewayKey), body); err != nil {
			s.logger.Warn("failed to send deletion request", "device", key, "error", err)
		}
	}
	return nil
}
