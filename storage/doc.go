// Package storage provides the pluggable backend interface for firmware file
// blob storage.
//
// # Overview
//
// The storage package defines the core Store interface used to persist
// firmware files reassembled from chunked transfers by the file download
// service. URL downloads (package urldownload) are written straight to the
// local filesystem and do not go through a Store. It provides a clean,
// implementation-agnostic API so the gateway's domain logic never depends on
// a specific backend:
//   - filestore.Store: local filesystem, one file per key - default
//   - future: shared S3-compatible store for multi-gateway deployments
//
// # Core Concepts
//
// The Store interface uses a simple key-value pattern where:
//   - Keys are firmware file identifiers, hierarchical via "/" separators
//     (e.g. "device-042/firmware/v3")
//   - Values are the complete file bytes
//   - Operations are context-aware for cancellation and timeouts
//
// # Architecture Decisions
//
// Simple Key-Value Model:
//
// The Store interface intentionally uses a simple key-value model rather than
// richer abstractions like queries or transactions:
//   - Keeps implementations simple and focused
//   - Firmware files are written once and read once during installation
//   - Pushes retry/hash-verification logic to the download service, not storage
//
// Context Everywhere:
//
// All Store operations accept context.Context as the first parameter, so
// long-running Get/Put calls against a remote backend can be cancelled when
// the gateway shuts down mid-transfer.
//
// # Thread Safety
//
// All Store implementations MUST be safe for concurrent use from multiple
// goroutines, since the download service's GC goroutine and the active
// transfer both touch the store concurrently.
//
// # Error Handling
//
// filestore.Store returns plain wrapped errors (fmt.Errorf with %w); they
// are not classified with the errors package. A key that is empty or
// contains ".." is rejected with an error.
//
// # See Also
//
//   - storage/filestore: local filesystem implementation
//   - download: chunked file transfer service that writes through a Store
package storage
