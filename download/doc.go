// Package download implements the chunked file transfer service:
// FileUploadInitiate, per-chunk hash-chained binary data, abort,
// delete, purge, and file-list reporting. At most one transfer
// progresses at a time; a background collector reaps the completed
// transfer so a new one can start.
package download
