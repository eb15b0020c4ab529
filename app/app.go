package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/edgelink/gateway/broker"
	"github.com/edgelink/gateway/commandbuffer"
	"github.com/edgelink/gateway/config"
	"github.com/edgelink/gateway/devicerepo"
	"github.com/edgelink/gateway/download"
	"github.com/edgelink/gateway/filerepo"
	"github.com/edgelink/gateway/firmware"
	"github.com/edgelink/gateway/health"
	"github.com/edgelink/gateway/inbound"
	"github.com/edgelink/gateway/keepalive"
	"github.com/edgelink/gateway/metric"
	"github.com/edgelink/gateway/persistence"
	"github.com/edgelink/gateway/pkg/buffer"
	"github.com/edgelink/gateway/protocol"
	"github.com/edgelink/gateway/protocol/jsonprotocol"
	"github.com/edgelink/gateway/protocol/topics"
	"github.com/edgelink/gateway/registration"
	"github.com/edgelink/gateway/status"
	"github.com/edgelink/gateway/storage/filestore"
	"github.com/edgelink/gateway/urldownload"
	"github.com/edgelink/gateway/wire"
)

// Options carries the process-level values cmd/gateway reads from the
// command line rather than the configuration file.
type Options struct {
	ConfigFile      string
	LogLevel        string
	ExecPath        string
	FirmwareVersion int
	MetricsPort     int
}

// registrationMessage mirrors the wire shape registration.Service
// exchanges with the platform: {deviceKey, password?, template}.
type registrationMessage struct {
	DeviceKey string              `json:"deviceKey"`
	Password  string              `json:"password,omitempty"`
	Template  wire.DeviceTemplate `json:"template"`
}

type deleteDevicesMessage struct {
	Keep []string `json:"keep"`
}

// App is the gateway's root coordinator: every service it owns is
// constructed once, in dependency order, and shut down in reverse.
type App struct {
	cfg    *config.SafeConfig
	logger *slog.Logger

	health          *health.Monitor
	metricsRegistry *metric.MetricsRegistry
	metricsServer   *metric.Server

	platformBroker *broker.Client
	deviceBroker   *broker.Client

	platformBuffer *commandbuffer.Buffer
	deviceBuffer   *commandbuffer.Buffer

	platformInbound *inbound.Handler
	deviceInbound   *inbound.Handler

	platformStore   *persistence.SQLiteStore
	platformPublish publishService
	devicePublish   publishService

	devices *devicerepo.Repository
	files   *filerepo.Repository
	blobs   *filestore.Store

	resolver  *protocol.Resolver
	jsonProto *jsonprotocol.Service

	registration *registration.Service
	urlDownload  *urldownload.HTTPDownloader
	download     *download.Service
	firmware     *firmware.Service
	status       *status.Service
	keepalive    *keepalive.Service

	startOnce sync.Once
	stopOnce  sync.Once
}

// publishService is the subset of publish.Service New builds against,
// named here so app.go doesn't need to import publish just to spell
// out its concrete type in struct fields that only ever see it through
// publishOutbound.
type publishService = interface {
	publisher
	Restore(ctx context.Context) error
	Connected()
	Disconnected()
	Close() error
}

// New constructs every gateway service against cfg, wiring inbound
// topic subscriptions to their handlers. It does not connect to either
// broker; call Start for that.
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "."
	}

	a := &App{
		cfg:             config.NewSafeConfig(cfg),
		logger:          logger,
		health:          health.NewMonitor(),
		metricsRegistry: metric.NewMetricsRegistry(),
	}
	if opts.MetricsPort > 0 {
		a.metricsServer = metric.NewServer(opts.MetricsPort, "/metrics", a.metricsRegistry)
	}

	platformTLS, err := cfg.PlatformTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("app: platform tls config: %w", err)
	}

	offlinePresence, err := json.Marshal(map[string]bool{"online": false})
	if err != nil {
		return nil, fmt.Errorf("app: marshal last-will payload: %w", err)
	}

	a.platformBroker = broker.NewClient("platform", cfg.PlatformMqttUri,
		broker.WithTLS(platformTLS),
		broker.WithCredentials(cfg.Key, cfg.Password),
		broker.WithClientID(cfg.Key),
		broker.WithLogger(logger),
		broker.WithMetrics(a.metricsRegistry.CoreMetrics()),
		broker.WithLastWill(topics.LastWill(cfg.Key), offlinePresence, 1, true),
		broker.WithOnConnect(func() { a.onPlatformConnect() }),
		broker.WithOnDisconnect(func(error) { a.onPlatformDisconnect() }),
	)
	a.deviceBroker = broker.NewClient("device", cfg.LocalMqttUri,
		broker.WithLogger(logger),
		broker.WithMetrics(a.metricsRegistry.CoreMetrics()),
		broker.WithOnConnect(func() { a.devicePublish.Connected() }),
		broker.WithOnDisconnect(func(error) { a.devicePublish.Disconnected() }),
	)

	a.platformBuffer = commandbuffer.New(256, logger)
	a.deviceBuffer = commandbuffer.New(256, logger)
	a.platformInbound = inbound.NewHandler(a.platformBuffer, logger)
	a.deviceInbound = inbound.NewHandler(a.deviceBuffer, logger)
	a.platformBroker.SetListener(a.platformInbound.Dispatch)
	a.deviceBroker.SetListener(a.deviceInbound.Dispatch)

	a.platformStore, err = persistence.Open(filepath.Join(dataDir, "platform_queue.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("app: open platform queue: %w", err)
	}

	platformPub, err := newPublishService("platform", 4096, buffer.Block, a.platformStore, a.platformBroker, logger)
	if err != nil {
		return nil, fmt.Errorf("app: platform publisher: %w", err)
	}
	a.platformPublish = platformPub
	devicePub, err := newPublishService("device", 4096, buffer.DropOldest, persistence.NoopStore{}, a.deviceBroker, logger)
	if err != nil {
		return nil, fmt.Errorf("app: device publisher: %w", err)
	}
	a.devicePublish = devicePub

	platformOut := &publishOutbound{pub: a.platformPublish}
	deviceOut := &publishOutbound{pub: a.devicePublish}

	a.devices, err = devicerepo.Open(filepath.Join(dataDir, "devices.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("app: open device repository: %w", err)
	}
	a.files, err = filerepo.Open(filepath.Join(dataDir, "files.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("app: open file repository: %w", err)
	}
	a.blobs, err = filestore.New(filepath.Join(dataDir, "blobs"))
	if err != nil {
		return nil, fmt.Errorf("app: open blob store: %w", err)
	}

	a.resolver = protocol.NewResolver(a.devices, logger)
	a.jsonProto = jsonprotocol.New()
	a.resolver.Register(a.jsonProto)

	a.status = status.New(cfg.Key, a.health, platformOut, logger)

	a.registration = registration.New(cfg.Key, a.devices, platformOut, deviceOut, a.onDeviceRegistered, logger)

	a.urlDownload = urldownload.NewHTTPDownloader(nil, logger)

	// download.Service needs to notify firmware.Service when a chunked
	// transfer it drives finishes; firmware.Service needs download.Service
	// as its ChunkedAborter. The closure below captures a.firmware by
	// field reference: it is nil until the assignment a few lines down,
	// but onReady is never invoked until the broker connects, by which
	// time construction has finished.
	a.download = download.New(cfg.Key, a.blobs, a.files, platformOut,
		download.WithLogger(logger),
		download.WithOnReady(func(deviceKey, name string) {
			if a.firmware != nil {
				a.firmware.OnFileReady(deviceKey, name)
			}
		}),
	)

	execPath := opts.ExecPath
	a.firmware = firmware.New(
		cfg.Key, execPath, opts.ConfigFile, opts.LogLevel, opts.FirmwareVersion,
		platformOut, deviceOut, a.urlDownload,
		filepath.Join(dataDir, "firmware"),
		a.download,
		logger,
	)

	interval := time.Duration(0)
	a.keepalive = keepalive.New(cfg.Key, interval, platformOut, logger)

	a.registerRoutes(cfg.Key, platformOut, deviceOut)

	return a, nil
}

func (a *App) onDeviceRegistered(deviceKey string, _ bool) {
	if err := a.status.DeviceOnline(context.Background(), deviceKey); err != nil {
		a.logger.Warn("failed to record device online after registration", "device", deviceKey, "error", err)
	}
}

func (a *App) onPlatformConnect() {
	a.platformPublish.Connected()
	if err := a.status.Connected(context.Background()); err != nil {
		a.logger.Warn("failed to publish gateway presence", "error", err)
	}
}

func (a *App) onPlatformDisconnect() {
	a.platformPublish.Disconnected()
	a.status.Disconnected()
}

// registerRoutes wires every inbound topic subscription to its
// handler, once per broker side.
func (a *App) registerRoutes(gatewayKey string, platformOut, deviceOut protocol.Outbound) {
	ctx := context.Background()

	// Device broker: messages originating from a child device (or the
	// gateway's own self-reports), forwarded toward the platform.
	a.deviceInbound.Register(topics.SensorReadingSubscription(), func(msg wire.Message) {
		a.resolver.DispatchFromDevice(ctx, gatewayKey, msg, platformOut)
	})
	a.deviceInbound.Register(topics.ActuatorStatusSubscription(), func(msg wire.Message) {
		a.resolver.DispatchFromDevice(ctx, gatewayKey, msg, platformOut)
	})
	a.deviceInbound.Register(topics.ConfigurationCurrentSubscription(), func(msg wire.Message) {
		a.resolver.DispatchFromDevice(ctx, gatewayKey, msg, platformOut)
	})
	a.deviceInbound.Register(topics.EventsSubscription(), func(msg wire.Message) {
		a.resolver.DispatchFromDevice(ctx, gatewayKey, msg, platformOut)
	})
	a.deviceInbound.Register(topics.RegisterDeviceFromDevice(gatewayKey), func(msg wire.Message) {
		var m registrationMessage
		if err := json.Unmarshal([]byte(msg.Content), &m); err != nil {
			a.logger.Warn("malformed device registration request", "error", err)
			return
		}
		if err := a.registration.HandleDeviceRequest(ctx, m.DeviceKey, m.Password, m.Template); err != nil {
			a.logger.Warn("device registration request failed", "device", m.DeviceKey, "error", err)
		}
	})
	a.deviceInbound.Register(topics.FirmwareVersionUpdateSubscription(), func(msg wire.Message) {
		deviceKey, ok := topics.ParseDeviceKey(msg.Channel)
		if !ok {
			return
		}
		if err := a.firmware.HandleVersionReport(ctx, deviceKey, []byte(msg.Content)); err != nil {
			a.logger.Warn("firmware version report failed", "device", deviceKey, "error", err)
		}
	})

	// Platform broker: messages originating from the platform,
	// forwarded toward a device or handled locally.
	a.platformInbound.Register(topics.ActuatorSetSubscription(), func(msg wire.Message) {
		a.resolver.DispatchFromPlatform(ctx, gatewayKey, msg, deviceOut)
	})
	a.platformInbound.Register(topics.ActuatorGetSubscription(), func(msg wire.Message) {
		a.resolver.DispatchFromPlatform(ctx, gatewayKey, msg, deviceOut)
	})
	a.platformInbound.Register(topics.ConfigurationSetSubscription(), func(msg wire.Message) {
		a.resolver.DispatchFromPlatform(ctx, gatewayKey, msg, deviceOut)
	})
	a.platformInbound.Register(topics.ConfigurationGetSubscription(), func(msg wire.Message) {
		a.resolver.DispatchFromPlatform(ctx, gatewayKey, msg, deviceOut)
	})
	a.platformInbound.Register(topics.RegisterDeviceFromPlatformSubscription(), func(msg wire.Message) {
		deviceKey, ok := topics.ParseDeviceKey(msg.Channel)
		if !ok {
			return
		}
		var m registrationMessage
		if err := json.Unmarshal([]byte(msg.Content), &m); err != nil {
			a.logger.Warn("malformed platform registration response", "device", deviceKey, "error", err)
			return
		}
		if err := a.registration.HandlePlatformResponse(ctx, deviceKey, m.Password, m.Template); err != nil {
			a.logger.Warn("platform registration response failed", "device", deviceKey, "error", err)
		}
	})
	a.platformInbound.Register(topics.ReregisterAll(gatewayKey), func(wire.Message) {
		if err := a.registration.ReregisterAll(ctx); err != nil {
			a.logger.Warn("reregisterAll failed", "error", err)
		}
	})
	a.platformInbound.Register(topics.DeleteDevices(gatewayKey), func(msg wire.Message) {
		var m deleteDevicesMessage
		if err := json.Unmarshal([]byte(msg.Content), &m); err != nil {
			a.logger.Warn("malformed delete devices request", "error", err)
			return
		}
		keep := make(map[string]bool, len(m.Keep))
		for _, key := range m.Keep {
			keep[key] = true
		}
		if err := a.registration.DeleteDevicesOtherThan(ctx, keep); err != nil {
			a.logger.Warn("delete devices failed", "error", err)
		}
	})
	a.platformInbound.Register(topics.FirmwareUpdateInstallSubscription(), func(msg wire.Message) {
		deviceKey, ok := topics.ParseDeviceKey(msg.Channel)
		if !ok {
			return
		}
		if err := a.firmware.HandleCommand(ctx, deviceKey, []byte(msg.Content)); err != nil {
			a.logger.Warn("firmware command failed", "device", deviceKey, "error", err)
		}
	})
	a.platformInbound.Register(topics.FileUploadInitiateSubscription(), func(msg wire.Message) {
		deviceKey, ok := topics.ParseDeviceKey(msg.Channel)
		if !ok {
			return
		}
		if err := a.download.Initiate(ctx, deviceKey, []byte(msg.Content)); err != nil {
			a.logger.Warn("file upload initiate failed", "device", deviceKey, "error", err)
		}
	})
	a.platformInbound.Register(topics.FileUploadBinarySubscription(), func(msg wire.Message) {
		deviceKey, ok := topics.ParseDeviceKey(msg.Channel)
		if !ok {
			return
		}
		if err := a.download.HandleChunk(ctx, deviceKey, []byte(msg.Content)); err != nil {
			a.logger.Warn("file upload chunk failed", "device", deviceKey, "error", err)
		}
	})
	a.platformInbound.Register(topics.FileDeleteSubscription(), func(msg wire.Message) {
		deviceKey, ok := topics.ParseDeviceKey(msg.Channel)
		if !ok {
			return
		}
		var info wire.FileInfo
		if err := json.Unmarshal([]byte(msg.Content), &info); err != nil {
			a.logger.Warn("malformed file delete request", "device", deviceKey, "error", err)
			return
		}
		if err := a.download.Delete(ctx, deviceKey, info.Name); err != nil {
			a.logger.Warn("file delete failed", "device", deviceKey, "error", err)
		}
	})
	a.platformInbound.Register(topics.FilePurgeSubscription(), func(msg wire.Message) {
		deviceKey, ok := topics.ParseDeviceKey(msg.Channel)
		if !ok {
			return
		}
		if err := a.download.Purge(ctx, deviceKey); err != nil {
			a.logger.Warn("file purge failed", "device", deviceKey, "error", err)
		}
	})
	a.platformInbound.Register(topics.FileListRequestSubscription(), func(msg wire.Message) {
		deviceKey, ok := topics.ParseDeviceKey(msg.Channel)
		if !ok {
			return
		}
		if err := a.download.ListFiles(ctx, deviceKey); err != nil {
			a.logger.Warn("file list failed", "device", deviceKey, "error", err)
		}
	})
	a.platformInbound.Register(topics.PingResponse(gatewayKey), func(msg wire.Message) {
		if err := a.keepalive.HandlePingResponse(ctx, []byte(msg.Content)); err != nil {
			a.logger.Warn("keepalive ping response failed", "error", err)
		}
	})
}

// Start connects both brokers, subscribes to every registered topic,
// restores any persisted outbound messages, and starts the background
// services. It reports the gateway's startup firmware version to the
// platform once the platform connection is established.
func (a *App) Start(ctx context.Context) error {
	var err error
	a.startOnce.Do(func() {
		err = a.start(ctx)
	})
	return err
}

func (a *App) start(ctx context.Context) error {
	if err := a.platformBuffer.Start(ctx); err != nil {
		return fmt.Errorf("app: start platform command buffer: %w", err)
	}
	if err := a.deviceBuffer.Start(ctx); err != nil {
		return fmt.Errorf("app: start device command buffer: %w", err)
	}

	if err := a.platformPublish.Restore(ctx); err != nil {
		return fmt.Errorf("app: restore platform queue: %w", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Start(); err != nil {
			return fmt.Errorf("app: start metrics server: %w", err)
		}
	}

	if err := a.deviceBroker.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect device broker: %w", err)
	}
	if err := a.platformBroker.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect platform broker: %w", err)
	}

	if err := a.subscribeAll(); err != nil {
		return fmt.Errorf("app: subscribe: %w", err)
	}

	if err := a.firmware.ReportStartupVersion(ctx); err != nil {
		a.logger.Warn("failed to report startup firmware version", "error", err)
	}

	cfg := a.cfg.Get()
	if cfg.KeepAlive {
		a.keepalive.Start(ctx)
	}

	return nil
}

func (a *App) subscribeAll() error {
	deviceTopics := []string{
		topics.SensorReadingSubscription(),
		topics.ActuatorStatusSubscription(),
		topics.ConfigurationCurrentSubscription(),
		topics.EventsSubscription(),
		topics.RegisterDeviceFromDevice(a.cfg.Get().Key),
		topics.FirmwareVersionUpdateSubscription(),
	}
	for _, t := range deviceTopics {
		if err := a.deviceBroker.Subscribe(t, 1); err != nil {
			return fmt.Errorf("device broker subscribe %q: %w", t, err)
		}
	}

	platformTopics := []string{
		topics.ActuatorSetSubscription(),
		topics.ActuatorGetSubscription(),
		topics.ConfigurationSetSubscription(),
		topics.ConfigurationGetSubscription(),
		topics.RegisterDeviceFromPlatformSubscription(),
		topics.ReregisterAll(a.cfg.Get().Key),
		topics.DeleteDevices(a.cfg.Get().Key),
		topics.FirmwareUpdateInstallSubscription(),
		topics.FileUploadInitiateSubscription(),
		topics.FileUploadBinarySubscription(),
		topics.FileDeleteSubscription(),
		topics.FilePurgeSubscription(),
		topics.FileListRequestSubscription(),
		topics.PingResponse(a.cfg.Get().Key),
	}
	for _, t := range platformTopics {
		if err := a.platformBroker.Subscribe(t, 1); err != nil {
			return fmt.Errorf("platform broker subscribe %q: %w", t, err)
		}
	}
	return nil
}

// Close shuts down every service in the reverse of its construction
// order. Safe to call once; later calls are no-ops.
func (a *App) Close() error {
	var err error
	a.stopOnce.Do(func() {
		a.keepalive.Stop()
		a.download.Close()

		a.platformBroker.Disconnect(250)
		a.deviceBroker.Disconnect(250)

		if a.metricsServer != nil {
			if stopErr := a.metricsServer.Stop(); stopErr != nil {
				a.logger.Warn("failed to stop metrics server", "error", stopErr)
			}
		}

		if closeErr := a.platformPublish.Close(); closeErr != nil {
			a.logger.Warn("failed to close platform publisher", "error", closeErr)
		}
		if closeErr := a.devicePublish.Close(); closeErr != nil {
			a.logger.Warn("failed to close device publisher", "error", closeErr)
		}

		if stopErr := a.platformBuffer.Stop(5 * time.Second); stopErr != nil {
			a.logger.Warn("failed to stop platform command buffer", "error", stopErr)
		}
		if stopErr := a.deviceBuffer.Stop(5 * time.Second); stopErr != nil {
			a.logger.Warn("failed to stop device command buffer", "error", stopErr)
		}

		if closeErr := a.files.Close(); closeErr != nil {
			a.logger.Warn("failed to close file repository", "error", closeErr)
		}
		if closeErr := a.devices.Close(); closeErr != nil {
			a.logger.Warn("failed to close device repository", "error", closeErr)
		}
		if closeErr := a.platformStore.Close(); closeErr != nil {
			a.logger.Warn("failed to close platform queue store", "error", closeErr)
		}

		err = nil
	})
	return err
}

// Health returns the current aggregated gateway health.
func (a *App) Health() health.Status {
	return a.health.AggregateHealth("gateway")
}
