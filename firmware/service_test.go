package firmware

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgelink/gateway/urldownload"
	"github.com/edgelink/gateway/wire"
)

type recordedPublish struct {
	channel string
	payload []byte
}

type recordingOutbound struct {
	mu   sync.Mutex
	msgs []recordedPublish
}

func (o *recordingOutbound) Publish(_ context.Context, channel string, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, recordedPublish{channel: channel, payload: payload})
	return nil
}

func (o *recordingOutbound) all() []recordedPublish {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]recordedPublish(nil), o.msgs...)
}

func (o *recordingOutbound) statuses(t *testing.T) []wire.FirmwareUpdateStatus {
	t.Helper()
	var out []wire.FirmwareUpdateStatus
	for _, m := range o.all() {
		var st wire.FirmwareUpdateStatus
		if err := json.Unmarshal(m.payload, &st); err == nil && st.State != "" {
			out = append(out, st)
		}
	}
	return out
}

type fakeDownloader struct {
	mu        sync.Mutex
	succeed   bool
	failCode  wire.ErrorCode
	aborted   bool
	lastURL   string
	resultDir string
}

func (d *fakeDownloader) Download(_ context.Context, fileURL, dir string, onSuccess urldownload.OnSuccess, onFail urldownload.OnFail) {
	d.mu.Lock()
	d.lastURL = fileURL
	d.resultDir = dir
	succeed := d.succeed
	code := d.failCode
	d.mu.Unlock()
	if succeed {
		onSuccess(dir + "/downloaded.bin")
		return
	}
	onFail(code, fmt.Errorf("fake download failed"))
}

var _ urldownload.UrlFileDownloader = (*fakeDownloader)(nil)

func (d *fakeDownloader) Abort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.aborted = true
}

type fakeChunkedAborter struct {
	mu          sync.Mutex
	deviceKey   string
	name        string
	called      bool
}

func (a *fakeChunkedAborter) Abort(_ context.Context, deviceKey, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.called = true
	a.deviceKey = deviceKey
	a.name = name
	return nil
}

func newTestService(gatewayKey string, platform, device *recordingOutbound, downloader *fakeDownloader, chunked *fakeChunkedAborter) *Service {
	svc := New(gatewayKey, "/usr/bin/gateway", "/etc/gateway.json", "info", 3, platform, device, downloader, "/tmp/firmware", chunked, nil)
	svc.execFunc = func(string, []string, []string) error { return nil }
	return svc
}

func command(t *testing.T, cmd wire.FirmwareUpdateCommand) []byte {
	t.Helper()
	body, err := json.Marshal(cmd)
	require.NoError(t, err)
	return body
}

func TestService_SelfInstallViaURLSucceeds(t *testing.T) {
	platform, device := &recordingOutbound{}, &recordingOutbound{}
	downloader := &fakeDownloader{succeed: true}
	svc := newTestService("gw", platform, device, downloader, nil)

	var argv []string
	svc.execFunc = func(_ string, a []string, _ []string) error {
		argv = a
		return nil
	}

	require.NoError(t, svc.HandleCommand(context.Background(), "gw", command(t, wire.FirmwareUpdateCommand{
		Action: wire.FirmwareActionInstall,
		URL:    "https://example.com/fw/v4.bin",
	})))

	statuses := platform.statuses(t)
	require.GreaterOrEqual(t, len(statuses), 3)
	assert.Equal(t, wire.FirmwareStateFileTransfer, statuses[0].State)
	assert.Equal(t, wire.FirmwareStateFileReady, statuses[1].State)
	assert.Equal(t, wire.FirmwareStateInstallation, statuses[2].State)

	require.Len(t, argv, 4)
	assert.Equal(t, "/usr/bin/gateway", argv[0])
	assert.Equal(t, "/etc/gateway.json", argv[1])
	assert.Equal(t, "info", argv[2])
	assert.Equal(t, "4", argv[3])
}

func TestService_SelfInstallExecFailureReportsError(t *testing.T) {
	platform, device := &recordingOutbound{}, &recordingOutbound{}
	downloader := &fakeDownloader{succeed: true}
	svc := newTestService("gw", platform, device, downloader, nil)
	svc.execFunc = func(string, []string, []string) error { return fmt.Errorf("exec: no such file") }

	require.NoError(t, svc.HandleCommand(context.Background(), "gw", command(t, wire.FirmwareUpdateCommand{
		Action: wire.FirmwareActionInstall,
		URL:    "https://example.com/fw/v4.bin",
	})))

	statuses := platform.statuses(t)
	last := statuses[len(statuses)-1]
	assert.Equal(t, wire.FirmwareStateError, last.State)
}

func TestService_ChildDeviceInstallForwardsAndCompletesOnVersionReport(t *testing.T) {
	platform, device := &recordingOutbound{}, &recordingOutbound{}
	downloader := &fakeDownloader{succeed: true}
	svc := newTestService("gw", platform, device, downloader, nil)

	require.NoError(t, svc.HandleCommand(context.Background(), "sensor-1", command(t, wire.FirmwareUpdateCommand{
		Action:  wire.FirmwareActionInstall,
		URL:     "https://example.com/fw/v2.bin",
		Version: 2,
	})))

	deviceMsgs := device.all()
	require.Len(t, deviceMsgs, 1)
	assert.Equal(t, "p2d/firmware_update_install/g/gw/d/sensor-1", deviceMsgs[0].channel)

	state, ok := svc.State("sensor-1")
	require.True(t, ok)
	assert.Equal(t, wire.FirmwareStateInstallation, state)

	report, err := json.Marshal(versionPayload{Version: 2})
	require.NoError(t, err)
	require.NoError(t, svc.HandleVersionReport(context.Background(), "sensor-1", report))

	state, ok = svc.State("sensor-1")
	require.True(t, ok)
	assert.Equal(t, wire.FirmwareStateCompleted, state)

	statuses := platform.statuses(t)
	assert.Equal(t, wire.FirmwareStateCompleted, statuses[len(statuses)-1].State)
}

func TestService_ChildDeviceVersionMismatchFails(t *testing.T) {
	platform, device := &recordingOutbound{}, &recordingOutbound{}
	downloader := &fakeDownloader{succeed: true}
	svc := newTestService("gw", platform, device, downloader, nil)

	require.NoError(t, svc.HandleCommand(context.Background(), "sensor-1", command(t, wire.FirmwareUpdateCommand{
		Action:  wire.FirmwareActionInstall,
		URL:     "https://example.com/fw/v2.bin",
		Version: 2,
	})))

	report, err := json.Marshal(versionPayload{Version: 1})
	require.NoError(t, err)
	require.Error(t, svc.HandleVersionReport(context.Background(), "sensor-1", report))

	state, ok := svc.State("sensor-1")
	require.True(t, ok)
	assert.Equal(t, wire.FirmwareStateError, state)

	statuses := platform.statuses(t)
	assert.Equal(t, wire.FirmwareStateError, statuses[len(statuses)-1].State)
}

func TestService_FileBasedTransferAwaitsOnFileReady(t *testing.T) {
	platform, device := &recordingOutbound{}, &recordingOutbound{}
	downloader := &fakeDownloader{}
	svc := newTestService("gw", platform, device, downloader, nil)

	require.NoError(t, svc.HandleCommand(context.Background(), "sensor-2", command(t, wire.FirmwareUpdateCommand{
		Action: wire.FirmwareActionInstall,
		File:   "firmware.bin",
	})))

	state, ok := svc.State("sensor-2")
	require.True(t, ok)
	assert.Equal(t, wire.FirmwareStateFileTransfer, state)

	svc.OnFileReady("sensor-2", "firmware.bin")

	state, ok = svc.State("sensor-2")
	require.True(t, ok)
	assert.Equal(t, wire.FirmwareStateInstallation, state)

	deviceMsgs := device.all()
	require.Len(t, deviceMsgs, 1)
	assert.Equal(t, "p2d/firmware_update_install/g/gw/d/sensor-2", deviceMsgs[0].channel)
}

func TestService_AbortCancelsURLDownloadAndChunkedTransfer(t *testing.T) {
	platform, device := &recordingOutbound{}, &recordingOutbound{}
	downloader := &fakeDownloader{}
	chunked := &fakeChunkedAborter{}
	svc := newTestService("gw", platform, device, downloader, chunked)

	require.NoError(t, svc.HandleCommand(context.Background(), "sensor-3", command(t, wire.FirmwareUpdateCommand{
		Action: wire.FirmwareActionInstall,
		File:   "firmware.bin",
	})))

	require.NoError(t, svc.Abort(context.Background(), "sensor-3"))

	assert.True(t, downloader.aborted)
	assert.True(t, chunked.called)
	assert.Equal(t, "sensor-3", chunked.deviceKey)
	assert.Equal(t, "firmware.bin", chunked.name)

	state, ok := svc.State("sensor-3")
	require.True(t, ok)
	assert.Equal(t, wire.FirmwareStateAborted, state)

	statuses := platform.statuses(t)
	assert.Equal(t, wire.FirmwareStateAborted, statuses[len(statuses)-1].State)
}
