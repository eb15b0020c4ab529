// Package protocol resolves inbound messages to the sub-protocol their
// declaring device's template specifies, and defines the DataService
// contract each sub-protocol implements.
package protocol

import (
	"context"

	"github.com/edgelink/gateway/wire"
)

// Outbound is the narrow publish surface a DataService uses to emit
// messages toward either broker side.
type Outbound interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// DataService forwards readings, actuation requests, alarms, and
// configuration commands for one sub-protocol between broker sides.
type DataService interface {
	// Name is the protocol identifier as carried in
	// wire.DeviceTemplate.Protocol.
	Name() string

	// HandleFromDevice processes a device→platform message already
	// known to belong to device (template reference validated by the
	// caller). It forwards the message toward the platform via out.
	HandleFromDevice(ctx context.Context, gatewayKey string, device wire.Device, channel string, payload []byte, out Outbound) error

	// HandleFromPlatform processes a platform→device message and
	// rewrites channel to the device-side topic convention before
	// forwarding it via out.
	HandleFromPlatform(ctx context.Context, gatewayKey string, device wire.Device, channel string, payload []byte, out Outbound) error
}
