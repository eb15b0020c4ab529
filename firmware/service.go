package firmware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"syscall"

	"github.com/edgelink/gateway/protocol"
	"github.com/edgelink/gateway/protocol/topics"
	"github.com/edgelink/gateway/urldownload"
	"github.com/edgelink/gateway/wire"
)

type versionPayload struct {
	Version int `json:"version"`
}

// ChunkedAborter cancels an in-progress chunked transfer. Satisfied by
// *download.Service.
type ChunkedAborter interface {
	Abort(ctx context.Context, deviceKey, name string) error
}

// session tracks one device's firmware update FSM.
type session struct {
	state         wire.FirmwareState
	file          string
	isGateway     bool
	targetVersion int
}

// Service drives firmware update sessions for a gateway and its child
// devices.
type Service struct {
	gatewayKey     string
	execPath       string
	configFile     string
	logLevel       string
	currentVersion int

	platformOut protocol.Outbound
	deviceOut   protocol.Outbound
	downloader  urldownload.UrlFileDownloader
	downloadDir string
	chunked     ChunkedAborter

	logger *slog.Logger

	// execFunc replaces the running process; defaults to syscall.Exec.
	// Tests override it to capture the argv instead of actually exec'ing.
	execFunc func(argv0 string, argv, envv []string) error

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates a Service. execPath, configFile and logLevel are the
// arguments the gateway binary was launched with, reused verbatim when
// self-installing a new version.
func New(
	gatewayKey, execPath, configFile, logLevel string,
	currentVersion int,
	platformOut, deviceOut protocol.Outbound,
	downloader urldownload.UrlFileDownloader,
	downloadDir string,
	chunked ChunkedAborter,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		gatewayKey:     gatewayKey,
		execPath:       execPath,
		configFile:     configFile,
		logLevel:       logLevel,
		currentVersion: currentVersion,
		platformOut:    platformOut,
		deviceOut:      deviceOut,
		downloader:     downloader,
		downloadDir:    downloadDir,
		chunked:        chunked,
		logger:         logger,
		execFunc:       syscall.Exec,
		sessions:       make(map[string]*session),
	}
}

// ReportStartupVersion publishes the running firmware version toward the
// platform. Called once at startup so a post-install restart is
// observable even though the process that performed the install is gone.
func (s *Service) ReportStartupVersion(ctx context.Context) error {
	body, err := json.Marshal(versionPayload{Version: s.currentVersion})
	if err != nil {
		return fmt.Errorf("firmware: marshal startup version: %w", err)
	}
	return s.platformOut.Publish(ctx, topics.FirmwareVersionUpdate(s.gatewayKey, s.gatewayKey), body)
}

// HandleCommand processes a platform-issued firmware update command for
// deviceKey.
func (s *Service) HandleCommand(ctx context.Context, deviceKey string, payload []byte) error {
	var cmd wire.FirmwareUpdateCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("firmware: decode command: %w", err)
	}

	if cmd.Action == wire.FirmwareActionAbort {
		return s.Abort(ctx, deviceKey)
	}

	sess := &session{state: wire.FirmwareStateFileTransfer, isGateway: deviceKey == s.gatewayKey}
	if sess.isGateway {
		sess.targetVersion = s.currentVersion + 1
	} else {
		sess.targetVersion = cmd.Version
	}
	s.mu.Lock()
	s.sessions[deviceKey] = sess
	s.mu.Unlock()

	if err := s.publishStatus(ctx, deviceKey, wire.FirmwareStateFileTransfer, ""); err != nil {
		s.logger.Warn("failed to publish firmware status", "device", deviceKey, "error", err)
	}

	switch {
	case cmd.URL != "":
		s.downloader.Download(ctx, cmd.URL, s.downloadDir,
			func(path string) { s.onFileReady(ctx, deviceKey, path) },
			func(code wire.ErrorCode, err error) { s.onFileFailed(ctx, deviceKey, code, err) })
		return nil
	case cmd.File != "":
		s.mu.Lock()
		sess.file = cmd.File
		s.mu.Unlock()
		return nil // awaits OnFileReady, invoked once the chunked transfer that produced cmd.File completes
	default:
		return s.fail(ctx, deviceKey, wire.ErrorMalformedResponse, fmt.Errorf("firmware: command names neither file nor url"))
	}
}

// OnFileReady is the chunked-transfer completion hook (wired to
// download.Service's WithOnReady option). It advances a pending
// FILE_TRANSFER session whose awaited file name matches name to
// FILE_READY and begins installation.
func (s *Service) OnFileReady(deviceKey, name string) {
	s.onFileReady(context.Background(), deviceKey, name)
}

func (s *Service) onFileReady(ctx context.Context, deviceKey, path string) {
	s.mu.Lock()
	sess, ok := s.sessions[deviceKey]
	if ok {
		if sess.state != wire.FirmwareStateFileTransfer || (sess.file != "" && sess.file != path) {
			ok = false
		} else {
			sess.state = wire.FirmwareStateFileReady
			sess.file = path
		}
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := s.publishStatus(ctx, deviceKey, wire.FirmwareStateFileReady, ""); err != nil {
		s.logger.Warn("failed to publish firmware status", "device", deviceKey, "error", err)
	}
	if err := s.install(ctx, deviceKey, sess); err != nil {
		s.logger.Warn("firmware install failed", "device", deviceKey, "error", err)
	}
}

func (s *Service) onFileFailed(ctx context.Context, deviceKey string, code wire.ErrorCode, cause error) {
	_ = s.fail(ctx, deviceKey, code, cause)
}

func (s *Service) install(ctx context.Context, deviceKey string, sess *session) error {
	s.mu.Lock()
	sess.state = wire.FirmwareStateInstallation
	s.mu.Unlock()
	if err := s.publishStatus(ctx, deviceKey, wire.FirmwareStateInstallation, ""); err != nil {
		s.logger.Warn("failed to publish firmware status", "device", deviceKey, "error", err)
	}

	if sess.isGateway {
		return s.selfInstall(ctx, deviceKey, sess.targetVersion)
	}

	body, err := json.Marshal(wire.FirmwareUpdateCommand{Action: wire.FirmwareActionInstall, File: sess.file, Version: sess.targetVersion})
	if err != nil {
		return s.fail(ctx, deviceKey, wire.ErrorUnspecified, fmt.Errorf("firmware: marshal install command: %w", err))
	}
	return s.deviceOut.Publish(ctx, topics.FirmwareUpdateInstall(s.gatewayKey, deviceKey), body)
}

// selfInstall replaces the running gateway process with a fresh
// invocation carrying nextVersion. On success this call never returns:
// the process image is gone.
func (s *Service) selfInstall(ctx context.Context, deviceKey string, nextVersion int) error {
	argv := []string{s.execPath, s.configFile, s.logLevel, strconv.Itoa(nextVersion)}

	s.logger.Info("self-installing firmware", "next_version", nextVersion)
	if err := s.execFunc(s.execPath, argv, os.Environ()); err != nil {
		return s.fail(ctx, deviceKey, wire.ErrorUnspecified, fmt.Errorf("firmware: exec failed: %w", err))
	}
	return nil
}

// HandleVersionReport processes a device's firmware_version_update
// report, forwarding it to the platform unconditionally. If an
// INSTALLATION session is in flight for deviceKey it resolves to
// COMPLETED when the reported version matches the session's target,
// otherwise to ERROR.
func (s *Service) HandleVersionReport(ctx context.Context, deviceKey string, payload []byte) error {
	if err := s.platformOut.Publish(ctx, topics.FirmwareVersionUpdate(s.gatewayKey, deviceKey), payload); err != nil {
		return fmt.Errorf("firmware: forward version report: %w", err)
	}

	s.mu.Lock()
	sess, ok := s.sessions[deviceKey]
	s.mu.Unlock()
	if !ok || sess.state != wire.FirmwareStateInstallation {
		return nil
	}

	var report versionPayload
	if err := json.Unmarshal(payload, &report); err != nil {
		return s.fail(ctx, deviceKey, wire.ErrorMalformedResponse, fmt.Errorf("firmware: decode version report: %w", err))
	}

	if report.Version != sess.targetVersion {
		return s.fail(ctx, deviceKey, wire.ErrorUnspecified,
			fmt.Errorf("firmware: reported version %d does not match expected version %d", report.Version, sess.targetVersion))
	}

	s.mu.Lock()
	sess.state = wire.FirmwareStateCompleted
	s.mu.Unlock()
	return s.publishStatus(ctx, deviceKey, wire.FirmwareStateCompleted, "")
}

// Abort cancels deviceKey's in-flight update, if any.
func (s *Service) Abort(ctx context.Context, deviceKey string) error {
	s.mu.Lock()
	sess, ok := s.sessions[deviceKey]
	if ok {
		sess.state = wire.FirmwareStateAborted
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}

	s.downloader.Abort()
	if s.chunked != nil && sess.file != "" {
		if err := s.chunked.Abort(ctx, deviceKey, sess.file); err != nil {
			s.logger.Warn("failed to abort chunked transfer", "device", deviceKey, "error", err)
		}
	}
	return s.publishStatus(ctx, deviceKey, wire.FirmwareStateAborted, "")
}

func (s *Service) fail(ctx context.Context, deviceKey string, code wire.ErrorCode, cause error) error {
	s.mu.Lock()
	if sess, ok := s.sessions[deviceKey]; ok {
		sess.state = wire.FirmwareStateError
	}
	s.mu.Unlock()
	s.logger.Warn("firmware update failed", "device", deviceKey, "code", code, "error", cause)
	if err := s.publishStatus(ctx, deviceKey, wire.FirmwareStateError, code); err != nil {
		s.logger.Warn("failed to publish firmware status", "device", deviceKey, "error", err)
	}
	return cause
}

func (s *Service) publishStatus(ctx context.Context, deviceKey string, state wire.FirmwareState, code wire.ErrorCode) error {
	body, err := json.Marshal(wire.FirmwareUpdateStatus{State: state, Code: code})
	if err != nil {
		return fmt.Errorf("firmware: marshal status: %w", err)
	}
	return s.platformOut.Publish(ctx, topics.FirmwareUpdateStatus(s.gatewayKey, deviceKey), body)
}

// State returns the current FSM state for deviceKey and whether a
// session exists.
func (s *Service) State(deviceKey string) (wire.FirmwareState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[deviceKey]
	if !ok {
		return "", false
	}
	return sess.state, true
}
