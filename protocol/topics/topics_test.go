package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilders(t *testing.T) {
	assert.Equal(t, "d2p/sensor_reading/g/gw/d/dev", SensorReading("gw", "dev"))
	assert.Equal(t, "p2d/actuator_set/g/gw/d/dev/r/relay", ActuatorSet("gw", "dev", "relay"))
	assert.Equal(t, "d2p/register_device/g/gw", RegisterDeviceFromDevice("gw"))
	assert.Equal(t, "p2d/register_device/g/gw/d/dev", RegisterDeviceFromPlatform("gw", "dev"))
	assert.Equal(t, "d2p/ping/g/gw", Ping("gw"))
	assert.Equal(t, "p2d/ping/g/gw", PingResponse("gw"))
	assert.Equal(t, "d2p/lastwill/g/gw", LastWill("gw"))
	assert.Equal(t, "d2p/device_status/g/gw/d/dev", DeviceStatus("gw", "dev"))
	assert.Equal(t, "p2d/reregister_all/g/gw", ReregisterAll("gw"))
	assert.Equal(t, "p2d/delete_devices/g/gw", DeleteDevices("gw"))
}

func TestSubscriptionWildcards(t *testing.T) {
	subs := []string{
		ActuatorGetSubscription(),
		ConfigurationSetSubscription(),
		ConfigurationGetSubscription(),
		FirmwareVersionUpdateSubscription(),
		FileDeleteSubscription(),
		FilePurgeSubscription(),
		FileListRequestSubscription(),
	}
	for _, sub := range subs {
		assert.Contains(t, sub, "+")
	}
}

func TestParseDeviceKey(t *testing.T) {
	key, ok := ParseDeviceKey("d2p/sensor_reading/g/gw/d/dev")
	assert.True(t, ok)
	assert.Equal(t, "dev", key)

	key, ok = ParseDeviceKey("p2d/actuator_set/g/gw/d/dev/r/relay")
	assert.True(t, ok)
	assert.Equal(t, "dev", key)

	_, ok = ParseDeviceKey("d2p/ping/g/gw")
	assert.False(t, ok)
}

func TestParseReference(t *testing.T) {
	ref, ok := ParseReference("p2d/actuator_set/g/gw/d/dev/r/relay")
	assert.True(t, ok)
	assert.Equal(t, "relay", ref)

	_, ok = ParseReference("d2p/sensor_reading/g/gw/d/dev")
	assert.False(t, ok)
}

func TestParseGatewayKey(t *testing.T) {
	key, ok := ParseGatewayKey("d2p/sensor_reading/g/gw/d/dev")
	assert.True(t, ok)
	assert.Equal(t, "gw", key)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "sensor_reading", Kind("d2p/sensor_reading/g/gw/d/dev"))
	assert.Equal(t, "actuator_set", Kind("p2d/actuator_set/g/gw/d/dev/r/relay"))
	assert.Equal(t, "", Kind("d2p"))
}
