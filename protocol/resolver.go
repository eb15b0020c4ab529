package protocol

import (
	"context"
	"log/slog"
	"sync"

	"github.com/edgelink/gateway/protocol/topics"
	"github.com/edgelink/gateway/wire"
)

// DeviceLookup is the narrow repository surface the resolver needs to
// validate a message's declaring device.
type DeviceLookup interface {
	FindByDeviceKey(ctx context.Context, key string) (wire.Device, bool, error)
}

// Resolver looks up the declaring device for an inbound message by the
// "/d/{deviceKey}" segment of its channel, and dispatches to that
// device's template-declared protocol's DataService.
type Resolver struct {
	mu       sync.RWMutex
	services map[string]DataService
	devices  DeviceLookup
	logger   *slog.Logger
}

// NewResolver creates a Resolver backed by devices for device lookups.
func NewResolver(devices DeviceLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		services: make(map[string]DataService),
		devices:  devices,
		logger:   logger,
	}
}

// Register adds a DataService under its own Name().
func (r *Resolver) Register(svc DataService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.Name()] = svc
}

// DispatchFromDevice resolves the declaring device from channel and
// forwards to its protocol's DataService. Unknown devices or unknown
// protocols are logged at WARN and dropped; reference validation (the
// declared "/r/{reference}" segment, when present, must belong to the
// device's template) is enforced here before the DataService ever
// sees the message.
func (r *Resolver) DispatchFromDevice(ctx context.Context, gatewayKey string, msg wire.Message, out Outbound) {
	deviceKey, ok := topics.ParseDeviceKey(msg.Channel)
	if !ok {
		r.logger.Warn("message has no device key segment, dropping", "channel", msg.Channel)
		return
	}

	device, found, err := r.devices.FindByDeviceKey(ctx, deviceKey)
	if err != nil {
		r.logger.Warn("device lookup failed, dropping", "channel", msg.Channel, "device", deviceKey, "error", err)
		return
	}
	if !found {
		r.logger.Warn("unknown device, dropping", "channel", msg.Channel, "device", deviceKey)
		return
	}

	if ref, ok := topics.ParseReference(msg.Channel); ok && !device.Template.HasReference(ref) {
		r.logger.Warn("reference not declared in device template, dropping", "channel", msg.Channel, "device", deviceKey, "reference", ref)
		return
	}

	svc := r.lookup(device.Template.Protocol)
	if svc == nil {
		r.logger.Warn("unknown protocol, dropping", "channel", msg.Channel, "device", deviceKey, "protocol", device.Template.Protocol)
		return
	}

	if err := svc.HandleFromDevice(ctx, gatewayKey, device, msg.Channel, []byte(msg.Content), out); err != nil {
		r.logger.Warn("protocol handler failed", "channel", msg.Channel, "device", deviceKey, "error", err)
	}
}

// DispatchFromPlatform resolves the addressed device from channel and
// forwards to its protocol's DataService for rewriting onto the
// device-side topic convention.
func (r *Resolver) DispatchFromPlatform(ctx context.Context, gatewayKey string, msg wire.Message, out Outbound) {
	deviceKey, ok := topics.ParseDeviceKey(msg.Channel)
	if !ok {
		r.logger.Warn("message has no device key segment, dropping", "channel", msg.Channel)
		return
	}

	device, found, err := r.devices.FindByDeviceKey(ctx, deviceKey)
	if err != nil || !found {
		r.logger.Warn("unknown device, dropping", "channel", msg.Channel, "device", deviceKey)
		return
	}

	svc := r.lookup(device.Template.Protocol)
	if svc == nil {
		r.logger.Warn("unknown protocol, dropping", "channel", msg.Channel, "device", deviceKey, "protocol", device.Template.Protocol)
		return
	}

	if err := svc.HandleFromPlatform(ctx, gatewayKey, device, msg.Channel, []byte(msg.Content), out); err != nil {
		r.logger.Warn("protocol handler failed", "channel", msg.Channel, "device", deviceKey, "error", err)
	}
}

func (r *Resolver) lookup(protocol string) DataService {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.services[protocol]
}
