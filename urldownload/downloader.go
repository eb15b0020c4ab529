// Package urldownload implements URL-sourced firmware download,
// independent of the chunked transfer path: a pluggable
// UrlFileDownloader fetches a whole file over HTTP with retry/backoff
// and reports completion via callback.
package urldownload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/edgelink/gateway/pkg/retry"
	"github.com/edgelink/gateway/wire"
)

// OnSuccess is called with the full local path of the downloaded file.
type OnSuccess func(path string)

// OnFail is called with the error taxonomy code and underlying cause
// when a download cannot complete.
type OnFail func(code wire.ErrorCode, err error)

// UrlFileDownloader fetches one file at a time from a URL into a
// target directory.
type UrlFileDownloader interface {
	Download(ctx context.Context, fileURL, dir string, onSuccess OnSuccess, onFail OnFail)
	Abort()
}

// HTTPDownloader is the default UrlFileDownloader, backed by net/http
// with pkg/retry exponential backoff.
type HTTPDownloader struct {
	client *http.Client
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ UrlFileDownloader = (*HTTPDownloader)(nil)

// NewHTTPDownloader creates a downloader using client (http.DefaultClient
// if nil).
func NewHTTPDownloader(client *http.Client, logger *slog.Logger) *HTTPDownloader {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPDownloader{client: client, logger: logger}
}

// Download fetches fileURL in the background and writes it under dir,
// naming the file after the URL's final path segment. onSuccess or
// onFail is invoked exactly once, from a background goroutine.
func (d *HTTPDownloader) Download(ctx context.Context, fileURL, dir string, onSuccess OnSuccess, onFail OnFail) {
	downloadCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	go d.run(downloadCtx, fileURL, dir, onSuccess, onFail)
}

func (d *HTTPDownloader) run(ctx context.Context, fileURL, dir string, onSuccess OnSuccess, onFail OnFail) {
	var data []byte

	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
		if err != nil {
			return retry.NonRetryable(fmt.Errorf("urldownload: build request: %w", err))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("urldownload: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("urldownload: server error %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return retry.NonRetryable(fmt.Errorf("urldownload: unexpected status %d", resp.StatusCode))
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("urldownload: read body: %w", err)
		}
		data = body
		return nil
	})
	if err != nil {
		d.logger.Warn("url download failed", "url", fileURL, "error", err)
		onFail(wire.ErrorMalformedResponse, err)
		return
	}

	name := fileName(fileURL)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		onFail(wire.ErrorFileSystemError, fmt.Errorf("urldownload: mkdir: %w", err))
		return
	}

	fullPath := filepath.Join(dir, name)
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		onFail(wire.ErrorFileSystemError, fmt.Errorf("urldownload: write: %w", err))
		return
	}

	onSuccess(fullPath)
}

// Abort cancels the in-flight download, if any.
func (d *HTTPDownloader) Abort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

func fileName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" {
		return "download.bin"
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "/" {
		return "download.bin"
	}
	return base
}
