package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgelink/gateway/config"
)

func testConfig(dataDir string) *config.Config {
	return &config.Config{
		Key:                 "gw-1",
		Password:            "secret",
		PlatformMqttUri:     "tcp://platform.example.com:1883",
		LocalMqttUri:        "tcp://127.0.0.1:1883",
		SubdeviceManagement: config.SubdeviceManagementGateway,
		DataDir:             dataDir,
	}
}

func TestNewConstructsEveryService(t *testing.T) {
	a, err := New(testConfig(t.TempDir()), Options{}, nil)
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.NotNil(t, a.platformBroker)
	assert.NotNil(t, a.deviceBroker)
	assert.NotNil(t, a.registration)
	assert.NotNil(t, a.firmware)
	assert.NotNil(t, a.download)
	assert.NotNil(t, a.status)
	assert.NotNil(t, a.keepalive)

	status := a.Health()
	assert.NotEmpty(t, status.Component)

	require.NoError(t, a.Close())
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := New(testConfig(t.TempDir()), Options{}, nil)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestDefaultDataDir(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	a, err := New(testConfig(""), Options{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
}

func TestPublishOutboundAdaptsAddMessage(t *testing.T) {
	fake := &fakePublisher{}
	out := &publishOutbound{pub: fake}

	err := out.Publish(context.Background(), "d2p/sensor_reading/g/gw/d/dev", []byte(`{"value":1}`))
	require.NoError(t, err)
	assert.Equal(t, "d2p/sensor_reading/g/gw/d/dev", fake.channel)
	assert.Equal(t, `{"value":1}`, fake.content)
}

type fakePublisher struct {
	channel string
	content string
}

func (f *fakePublisher) AddMessage(_ context.Context, channel, content string) error {
	f.channel = channel
	f.content = content
	return nil
}
