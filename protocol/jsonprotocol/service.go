// Package jsonprotocol is the default, reference DataService
// implementation: payloads are plain JSON (wire.Reading,
// wire.ActuatorStatus, wire.ConfigurationItem) and channel rewriting
// between the platform and device topic conventions is a straight
// string trim of the "/g/{gatewayKey}/d/{deviceKey}" routing segment,
// since the device-local broker already has exactly one peer on the
// other end of that segment.
package jsonprotocol

import (
	"context"
	"strings"

	"github.com/edgelink/gateway/protocol"
	"github.com/edgelink/gateway/wire"
)

// Name is the protocol identifier devices declare in
// wire.DeviceTemplate.Protocol to select this implementation.
const Name = "json"

// Service is the default DataService implementation.
type Service struct{}

// New creates a json Service.
func New() *Service { return &Service{} }

func (s *Service) Name() string { return Name }

// HandleFromDevice republishes the message toward the platform
// unchanged: the device-to-platform channel already carries the
// gateway/device routing segment the platform needs.
func (s *Service) HandleFromDevice(ctx context.Context, _ string, _ wire.Device, channel string, payload []byte, out protocol.Outbound) error {
	return out.Publish(ctx, channel, payload)
}

// HandleFromPlatform rewrites channel to the device-local topic (the
// "/g/{gatewayKey}/d/{deviceKey}" segment stripped) and republishes
// toward the device broker.
func (s *Service) HandleFromPlatform(ctx context.Context, gatewayKey string, device wire.Device, channel string, payload []byte, out protocol.Outbound) error {
	return out.Publish(ctx, deviceLocalTopic(gatewayKey, device.Key, channel), payload)
}

// deviceLocalTopic strips "g/{gatewayKey}/d/{deviceKey}" out of channel,
// leaving the direction prefix, kind, and any trailing reference
// segment, e.g. "p2d/actuator_set/g/gw/d/dev/r/relay" becomes
// "p2d/actuator_set/r/relay".
func deviceLocalTopic(gatewayKey, deviceKey, channel string) string {
	routingSegment := "g/" + gatewayKey + "/d/" + deviceKey
	trimmed := strings.Replace(channel, "/"+routingSegment, "", 1)
	return trimmed
}
