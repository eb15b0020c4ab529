// Package download implements the chunked file transfer service:
// FileUploadInitiate, per-chunk hash-chained BinaryData, abort, purge,
// and file-list reporting. At most one transfer is active at a time.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgelink/gateway/filerepo"
	"github.com/edgelink/gateway/protocol"
	"github.com/edgelink/gateway/protocol/topics"
	"github.com/edgelink/gateway/storage"
	"github.com/edgelink/gateway/wire"
)

// DefaultMaxRetries is the number of times a corrupt chunk may be
// re-requested before the transfer fails (spec: "e.g. 3").
const DefaultMaxRetries = 3

// DefaultGCInterval is how often the background collector checks for a
// completed transfer to reap.
const DefaultGCInterval = 5 * time.Second

type initiatePayload struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Hash string `json:"hash"` // base64 sha256 over the whole file
}

type chunkPayload struct {
	PreviousHash []byte `json:"previousHash"`
	Payload      []byte `json:"payload"`
	CurrentHash  []byte `json:"currentHash"`
}

type packetRequestPayload struct {
	Name       string `json:"name"`
	ChunkIndex int    `json:"chunkIndex"`
}

type statusPayload struct {
	Status string         `json:"status"`
	Name   string         `json:"name"`
	Code   wire.ErrorCode `json:"code,omitempty"`
}

type listConfirmPayload struct {
	Files []wire.FileInfo `json:"files"`
}

// activeDownload tracks one in-progress chunked transfer.
type activeDownload struct {
	mu sync.Mutex

	id            string
	deviceKey     string
	fileName      string
	expectedHash  []byte
	expectedSize  int64
	maxPacketSize int

	chunks       [][]byte
	totalChunks  int
	nextIndex    int
	previousHash []byte
	retries      int

	completed bool
	aborted   bool
}

// Service coordinates chunked file transfers for one gateway.
type Service struct {
	gatewayKey    string
	maxPacketSize int
	maxFileSize   int64
	maxRetries    int

	store  storage.Store
	files  *filerepo.Repository
	out    protocol.Outbound
	logger *slog.Logger
	onReady func(deviceKey, name string)

	mu     sync.Mutex
	active *activeDownload

	gcStop chan struct{}
	gcDone chan struct{}
}

// Option configures a Service.
type Option func(*Service)

func WithMaxPacketSize(n int) Option { return func(s *Service) { s.maxPacketSize = n } }
func WithMaxFileSize(n int64) Option { return func(s *Service) { s.maxFileSize = n } }
func WithMaxRetries(n int) Option    { return func(s *Service) { s.maxRetries = n } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithOnReady registers a callback fired after a chunked transfer
// completes successfully, before the FileUploadReady status is
// published. Used by the firmware service to advance a pending
// FILE_TRANSFER session to FILE_READY.
func WithOnReady(fn func(deviceKey, name string)) Option {
	return func(s *Service) { s.onReady = fn }
}

// New creates a Service and starts its background garbage collector.
func New(gatewayKey string, store storage.Store, files *filerepo.Repository, out protocol.Outbound, opts ...Option) *Service {
	s := &Service{
		gatewayKey:    gatewayKey,
		maxPacketSize: 1024,
		maxFileSize:   64 * 1024 * 1024,
		maxRetries:    DefaultMaxRetries,
		store:         store,
		files:         files,
		out:           out,
		logger:        slog.Default(),
		gcStop:        make(chan struct{}),
		gcDone:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.collect()
	return s
}

// Close stops the background collector.
func (s *Service) Close() {
	close(s.gcStop)
	<-s.gcDone
}

func (s *Service) collect() {
	defer close(s.gcDone)
	ticker := time.NewTicker(DefaultGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.active != nil {
				s.active.mu.Lock()
				done := s.active.completed
				s.active.mu.Unlock()
				if done {
					s.active = nil
				}
			}
			s.mu.Unlock()
		}
	}
}

// Initiate begins a new chunked transfer for deviceKey. Rejects if a
// transfer is already active, or if size exceeds maxFileSize.
func (s *Service) Initiate(ctx context.Context, deviceKey string, payload []byte) error {
	var req initiatePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return s.fail(ctx, deviceKey, "", wire.ErrorMalformedResponse, fmt.Errorf("download: decode initiate: %w", err))
	}

	if req.Size > s.maxFileSize {
		return s.fail(ctx, deviceKey, req.Name, wire.ErrorUnsupportedFileSize, fmt.Errorf("download: file size %d exceeds max %d", req.Size, s.maxFileSize))
	}

	hash, err := base64.StdEncoding.DecodeString(req.Hash)
	if err != nil {
		return s.fail(ctx, deviceKey, req.Name, wire.ErrorMalformedResponse, fmt.Errorf("download: decode expected hash: %w", err))
	}

	total := int((req.Size + int64(s.maxPacketSize) - 1) / int64(s.maxPacketSize))
	if req.Size == 0 {
		total = 0
	}

	s.mu.Lock()
	if s.active != nil {
		s.active.mu.Lock()
		done := s.active.completed
		s.active.mu.Unlock()
		if !done {
			s.mu.Unlock()
			return s.fail(ctx, deviceKey, req.Name, wire.ErrorUnspecified, fmt.Errorf("download: transfer already active"))
		}
		s.active = nil
	}
	dl := &activeDownload{
		id:            uuid.NewString(),
		deviceKey:     deviceKey,
		fileName:      req.Name,
		expectedHash:  hash,
		expectedSize:  req.Size,
		maxPacketSize: s.maxPacketSize,
		chunks:        make([][]byte, total),
		totalChunks:   total,
	}
	s.active = dl
	s.mu.Unlock()

	s.logger.Info("transfer initiated", "transfer_id", dl.id, "device", deviceKey, "file", req.Name, "chunks", total)

	if total == 0 {
		return s.finish(ctx, dl)
	}
	return s.requestChunk(ctx, dl, 0)
}

func (s *Service) requestChunk(ctx context.Context, dl *activeDownload, index int) error {
	body, err := json.Marshal(packetRequestPayload{Name: dl.fileName, ChunkIndex: index})
	if err != nil {
		return fmt.Errorf("download: marshal packet request: %w", err)
	}
	return s.out.Publish(ctx, topics.FileUploadPacketRequest(s.gatewayKey, dl.deviceKey), body)
}

// HandleChunk processes one inbound binary chunk for the active
// transfer. Invalid chunks (bad hash, broken chain) are re-requested up
// to maxRetries before the transfer is failed.
func (s *Service) HandleChunk(ctx context.Context, deviceKey string, payload []byte) error {
	var chunk chunkPayload
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return s.fail(ctx, deviceKey, "", wire.ErrorMalformedResponse, fmt.Errorf("download: decode chunk: %w", err))
	}

	s.mu.Lock()
	dl := s.active
	s.mu.Unlock()
	if dl == nil || dl.deviceKey != deviceKey {
		s.logger.Warn("chunk received with no matching active transfer", "device", deviceKey)
		return nil
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()
	if dl.completed || dl.aborted {
		return nil
	}

	sum := sha256.Sum256(chunk.Payload)
	valid := bytesEqual(sum[:], chunk.CurrentHash)
	if valid && dl.nextIndex > 0 {
		valid = bytesEqual(dl.previousHash, chunk.PreviousHash)
	}

	if !valid {
		dl.retries++
		if dl.retries > s.maxRetries {
			dl.completed = true
			return s.fail(ctx, deviceKey, dl.fileName, wire.ErrorRetryCountExceeded, fmt.Errorf("download: chunk %d failed after %d retries", dl.nextIndex, s.maxRetries))
		}
		return s.requestChunk(ctx, dl, dl.nextIndex)
	}

	dl.chunks[dl.nextIndex] = chunk.Payload
	dl.previousHash = chunk.CurrentHash
	dl.retries = 0
	dl.nextIndex++

	if dl.nextIndex < dl.totalChunks {
		return s.requestChunk(ctx, dl, dl.nextIndex)
	}

	return s.finish(ctx, dl)
}

func (s *Service) finish(ctx context.Context, dl *activeDownload) error {
	h := sha256.New()
	var full []byte
	for _, c := range dl.chunks {
		h.Write(c)
		full = append(full, c...)
	}
	if !bytesEqual(h.Sum(nil), dl.expectedHash) {
		dl.completed = true
		return s.fail(ctx, dl.deviceKey, dl.fileName, wire.ErrorFileHashMismatch, fmt.Errorf("download: final hash mismatch for %s", dl.fileName))
	}

	key := dl.deviceKey + "/" + dl.fileName
	if err := s.store.Put(ctx, key, full); err != nil {
		dl.completed = true
		return s.fail(ctx, dl.deviceKey, dl.fileName, wire.ErrorFileSystemError, fmt.Errorf("download: store: %w", err))
	}

	info := wire.FileInfo{Name: dl.fileName, Hash: base64.StdEncoding.EncodeToString(dl.expectedHash), Path: key}
	if err := s.files.Save(ctx, info); err != nil {
		dl.completed = true
		return s.fail(ctx, dl.deviceKey, dl.fileName, wire.ErrorFileSystemError, fmt.Errorf("download: save file info: %w", err))
	}

	dl.completed = true
	if s.onReady != nil {
		s.onReady(dl.deviceKey, dl.fileName)
	}
	return s.publishStatus(ctx, dl.deviceKey, dl.fileName, wire.FileUploadReady, "")
}

// Abort cancels the active transfer for deviceKey, if it matches.
func (s *Service) Abort(ctx context.Context, deviceKey, name string) error {
	s.mu.Lock()
	dl := s.active
	s.mu.Unlock()
	if dl == nil || dl.deviceKey != deviceKey || dl.fileName != name {
		return nil
	}

	dl.mu.Lock()
	dl.completed = true
	dl.aborted = true
	dl.mu.Unlock()

	return s.publishStatus(ctx, deviceKey, name, wire.FileUploadAborted, "")
}

// Delete removes a completed file from both the blob store and the
// file repository.
func (s *Service) Delete(ctx context.Context, deviceKey, name string) error {
	key := deviceKey + "/" + name
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("download: delete blob: %w", err)
	}
	return s.files.Remove(ctx, name)
}

// Purge removes every file in the file repository (which is not keyed
// by device), deleting each one's blob under deviceKey's prefix.
func (s *Service) Purge(ctx context.Context, deviceKey string) error {
	infos, err := s.files.List(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := s.Delete(ctx, deviceKey, info.Name); err != nil {
			s.logger.Warn("failed to purge file", "name", info.Name, "error", err)
		}
	}
	return nil
}

// ListFiles publishes FileListConfirm with every tracked file.
func (s *Service) ListFiles(ctx context.Context, deviceKey string) error {
	infos, err := s.files.List(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(listConfirmPayload{Files: infos})
	if err != nil {
		return fmt.Errorf("download: marshal file list: %w", err)
	}
	return s.out.Publish(ctx, topics.FileListConfirm(s.gatewayKey, deviceKey), body)
}

func (s *Service) publishStatus(ctx context.Context, deviceKey, name string, status wire.FileUploadStatusCode, code wire.ErrorCode) error {
	body, err := json.Marshal(statusPayload{Status: status.String(), Name: name, Code: code})
	if err != nil {
		return fmt.Errorf("download: marshal status: %w", err)
	}
	return s.out.Publish(ctx, topics.FileUploadStatus(s.gatewayKey, deviceKey), body)
}

func (s *Service) fail(ctx context.Context, deviceKey, name string, code wire.ErrorCode, cause error) error {
	s.logger.Warn("file transfer failed", "device", deviceKey, "name", name, "code", code, "error", cause)
	if err := s.publishStatus(ctx, deviceKey, name, wire.FileUploadDisconnected, code); err != nil {
		s.logger.Warn("failed to publish failure status", "error", err)
	}
	return cause
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
