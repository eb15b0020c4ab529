// Package topics builds and parses the gateway's MQTT topic strings.
// Every builder returns the exact channel a message should be
// published on; every parser accepts a channel and returns the typed
// value(s) embedded in it, plus a bool reporting whether the channel
// actually matched that topic's shape.
package topics

import (
	"fmt"
	"strings"
)

// SensorReading returns "d2p/sensor_reading/g/{gatewayKey}/d/{deviceKey}".
func SensorReading(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("d2p/sensor_reading/g/%s/d/%s", gatewayKey, deviceKey)
}

// SensorReadingSubscription returns the wildcard subscription matching
// every device's sensor reading topic.
func SensorReadingSubscription() string {
	return "d2p/sensor_reading/g/+/d/+"
}

// ActuatorSet returns "p2d/actuator_set/g/{gatewayKey}/d/{deviceKey}/r/{reference}".
func ActuatorSet(gatewayKey, deviceKey, reference string) string {
	return fmt.Sprintf("p2d/actuator_set/g/%s/d/%s/r/%s", gatewayKey, deviceKey, reference)
}

// ActuatorSetSubscription returns the wildcard subscription for
// actuator-set commands arriving from the platform broker.
func ActuatorSetSubscription() string {
	return "p2d/actuator_set/g/+/d/+/r/+"
}

// ActuatorGet returns "p2d/actuator_get/g/{gatewayKey}/d/{deviceKey}/r/{reference}".
func ActuatorGet(gatewayKey, deviceKey, reference string) string {
	return fmt.Sprintf("p2d/actuator_get/g/%s/d/%s/r/%s", gatewayKey, deviceKey, reference)
}

// ActuatorGetSubscription returns the wildcard subscription for
// actuator-get commands arriving from the platform broker.
func ActuatorGetSubscription() string {
	return "p2d/actuator_get/g/+/d/+/r/+"
}

// ActuatorStatus returns "d2p/actuator_status/g/{gatewayKey}/d/{deviceKey}/r/{reference}".
func ActuatorStatus(gatewayKey, deviceKey, reference string) string {
	return fmt.Sprintf("d2p/actuator_status/g/%s/d/%s/r/%s", gatewayKey, deviceKey, reference)
}

// ActuatorStatusSubscription returns the wildcard subscription matching
// every device's actuator status topic.
func ActuatorStatusSubscription() string {
	return "d2p/actuator_status/g/+/d/+/r/+"
}

// ConfigurationSet returns "p2d/configuration_set/g/{gatewayKey}/d/{deviceKey}/r/{reference}".
func ConfigurationSet(gatewayKey, deviceKey, reference string) string {
	return fmt.Sprintf("p2d/configuration_set/g/%s/d/%s/r/%s", gatewayKey, deviceKey, reference)
}

// ConfigurationSetSubscription returns the wildcard subscription for
// configuration-set commands arriving from the platform broker.
func ConfigurationSetSubscription() string {
	return "p2d/configuration_set/g/+/d/+/r/+"
}

// ConfigurationGet returns "p2d/configuration_get/g/{gatewayKey}/d/{deviceKey}/r/{reference}".
func ConfigurationGet(gatewayKey, deviceKey, reference string) string {
	return fmt.Sprintf("p2d/configuration_get/g/%s/d/%s/r/%s", gatewayKey, deviceKey, reference)
}

// ConfigurationGetSubscription returns the wildcard subscription for
// configuration-get commands arriving from the platform broker.
func ConfigurationGetSubscription() string {
	return "p2d/configuration_get/g/+/d/+/r/+"
}

// ConfigurationCurrent returns "d2p/configuration_current/g/{gatewayKey}/d/{deviceKey}/r/{reference}".
func ConfigurationCurrent(gatewayKey, deviceKey, reference string) string {
	return fmt.Sprintf("d2p/configuration_current/g/%s/d/%s/r/%s", gatewayKey, deviceKey, reference)
}

// ConfigurationCurrentSubscription returns the wildcard subscription
// matching every device's reported current configuration.
func ConfigurationCurrentSubscription() string {
	return "d2p/configuration_current/g/+/d/+/r/+"
}

// Events returns "d2p/events/g/{gatewayKey}/d/{deviceKey}".
func Events(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("d2p/events/g/%s/d/%s", gatewayKey, deviceKey)
}

// EventsSubscription returns the wildcard subscription matching every
// device's events/alarms topic.
func EventsSubscription() string {
	return "d2p/events/g/+/d/+"
}

// RegisterDeviceFromDevice returns "d2p/register_device/g/{gatewayKey}".
func RegisterDeviceFromDevice(gatewayKey string) string {
	return fmt.Sprintf("d2p/register_device/g/%s", gatewayKey)
}

// RegisterDeviceFromPlatform returns "p2d/register_device/g/{gatewayKey}/d/{deviceKey}".
func RegisterDeviceFromPlatform(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("p2d/register_device/g/%s/d/%s", gatewayKey, deviceKey)
}

// RegisterDeviceFromPlatformSubscription returns the wildcard
// subscription for platform-initiated registration responses for any
// child device.
func RegisterDeviceFromPlatformSubscription() string {
	return "p2d/register_device/g/+/d/+"
}

// FirmwareUpdateInstall returns "p2d/firmware_update_install/g/{gatewayKey}/d/{deviceKey}".
func FirmwareUpdateInstall(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("p2d/firmware_update_install/g/%s/d/%s", gatewayKey, deviceKey)
}

// FirmwareUpdateInstallSubscription returns the wildcard subscription
// for firmware install commands addressed to any child device.
func FirmwareUpdateInstallSubscription() string {
	return "p2d/firmware_update_install/g/+/d/+"
}

// FirmwareUpdateStatus returns "d2p/firmware_update_status/g/{gatewayKey}/d/{deviceKey}".
func FirmwareUpdateStatus(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("d2p/firmware_update_status/g/%s/d/%s", gatewayKey, deviceKey)
}

// FirmwareVersionUpdate returns "d2p/firmware_version_update/g/{gatewayKey}/d/{deviceKey}".
func FirmwareVersionUpdate(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("d2p/firmware_version_update/g/%s/d/%s", gatewayKey, deviceKey)
}

// FirmwareVersionUpdateSubscription returns the wildcard subscription
// matching every device's reported firmware version, including the
// gateway's own self-report.
func FirmwareVersionUpdateSubscription() string {
	return "d2p/firmware_version_update/g/+/d/+"
}

// FileUploadInitiate returns "p2d/file_upload_initiate/g/{gatewayKey}/d/{deviceKey}".
func FileUploadInitiate(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("p2d/file_upload_initiate/g/%s/d/%s", gatewayKey, deviceKey)
}

// FileUploadInitiateSubscription returns the wildcard subscription for
// initiate commands addressed to any child device.
func FileUploadInitiateSubscription() string {
	return "p2d/file_upload_initiate/g/+/d/+"
}

// FileUploadBinary returns "p2d/file_upload_binary/g/{gatewayKey}/d/{deviceKey}".
func FileUploadBinary(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("p2d/file_upload_binary/g/%s/d/%s", gatewayKey, deviceKey)
}

// FileUploadBinarySubscription returns the wildcard subscription for
// chunk payloads addressed to any child device.
func FileUploadBinarySubscription() string {
	return "p2d/file_upload_binary/g/+/d/+"
}

// FileUploadStatus returns "d2p/file_upload_status/g/{gatewayKey}/d/{deviceKey}".
func FileUploadStatus(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("d2p/file_upload_status/g/%s/d/%s", gatewayKey, deviceKey)
}

// FileUploadPacketRequest returns "d2p/file_upload_packet_request/g/{gatewayKey}/d/{deviceKey}".
func FileUploadPacketRequest(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("d2p/file_upload_packet_request/g/%s/d/%s", gatewayKey, deviceKey)
}

// FileDelete returns "p2d/file_delete/g/{gatewayKey}/d/{deviceKey}".
func FileDelete(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("p2d/file_delete/g/%s/d/%s", gatewayKey, deviceKey)
}

// FileDeleteSubscription returns the wildcard subscription for file
// deletion requests addressed to any device.
func FileDeleteSubscription() string {
	return "p2d/file_delete/g/+/d/+"
}

// FilePurge returns "p2d/file_purge/g/{gatewayKey}/d/{deviceKey}".
func FilePurge(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("p2d/file_purge/g/%s/d/%s", gatewayKey, deviceKey)
}

// FilePurgeSubscription returns the wildcard subscription for file
// purge requests addressed to any device.
func FilePurgeSubscription() string {
	return "p2d/file_purge/g/+/d/+"
}

// FileListRequest returns "p2d/file_list_request/g/{gatewayKey}/d/{deviceKey}".
func FileListRequest(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("p2d/file_list_request/g/%s/d/%s", gatewayKey, deviceKey)
}

// FileListRequestSubscription returns the wildcard subscription for
// file list requests addressed to any device.
func FileListRequestSubscription() string {
	return "p2d/file_list_request/g/+/d/+"
}

// FileListConfirm returns "d2p/file_list_confirm/g/{gatewayKey}/d/{deviceKey}".
func FileListConfirm(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("d2p/file_list_confirm/g/%s/d/%s", gatewayKey, deviceKey)
}

// Ping returns "d2p/ping/g/{gatewayKey}".
func Ping(gatewayKey string) string {
	return fmt.Sprintf("d2p/ping/g/%s", gatewayKey)
}

// PingResponse returns "p2d/ping/g/{gatewayKey}", the platform's reply
// to a keep-alive ping carrying its current timestamp.
func PingResponse(gatewayKey string) string {
	return fmt.Sprintf("p2d/ping/g/%s", gatewayKey)
}

// LastWill returns "d2p/lastwill/g/{gatewayKey}".
func LastWill(gatewayKey string) string {
	return fmt.Sprintf("d2p/lastwill/g/%s", gatewayKey)
}

// ReregisterAll returns "p2d/reregister_all/g/{gatewayKey}", the
// platform-initiated request to refresh every child device's
// registration.
func ReregisterAll(gatewayKey string) string {
	return fmt.Sprintf("p2d/reregister_all/g/%s", gatewayKey)
}

// DeleteDevices returns "p2d/delete_devices/g/{gatewayKey}", the
// platform-initiated request carrying the set of device keys to keep;
// every device not named is removed.
func DeleteDevices(gatewayKey string) string {
	return fmt.Sprintf("p2d/delete_devices/g/%s", gatewayKey)
}

// DeviceStatus returns "d2p/device_status/g/{gatewayKey}/d/{deviceKey}",
// the channel the device status service forwards a child device's
// online/offline transitions to the platform on.
func DeviceStatus(gatewayKey, deviceKey string) string {
	return fmt.Sprintf("d2p/device_status/g/%s/d/%s", gatewayKey, deviceKey)
}

// ParseDeviceKey extracts the {deviceKey} segment from a channel shaped
// ".../d/{deviceKey}" or ".../d/{deviceKey}/r/{reference}". Returns
// ok == false if the channel has no "/d/" segment.
func ParseDeviceKey(channel string) (string, bool) {
	parts := strings.Split(channel, "/")
	for i, part := range parts {
		if part == "d" && i+1 < len(parts) {
			return parts[i+1], true
		}
	}
	return "", false
}

// ParseReference extracts the {reference} segment from a channel shaped
// ".../r/{reference}". Returns ok == false if there is no "/r/" segment.
func ParseReference(channel string) (string, bool) {
	parts := strings.Split(channel, "/")
	for i, part := range parts {
		if part == "r" && i+1 < len(parts) {
			return parts[i+1], true
		}
	}
	return "", false
}

// ParseGatewayKey extracts the {gatewayKey} segment from a channel
// shaped ".../g/{gatewayKey}/...". Returns ok == false if there is no
// "/g/" segment.
func ParseGatewayKey(channel string) (string, bool) {
	parts := strings.Split(channel, "/")
	for i, part := range parts {
		if part == "g" && i+1 < len(parts) {
			return parts[i+1], true
		}
	}
	return "", false
}

// Kind returns the second path segment of channel, its message kind
// (e.g. "sensor_reading", "actuator_set").
func Kind(channel string) string {
	parts := strings.SplitN(channel, "/", 3)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
