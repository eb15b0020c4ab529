// Package firmware drives the per-device firmware update state machine:
// IDLE -> FILE_TRANSFER -> FILE_READY -> INSTALLATION -> COMPLETED/ERROR/ABORTED.
// File acquisition is delegated to either the chunked transfer service or
// a pluggable urldownload.UrlFileDownloader; installation is either a
// self-exec of the gateway binary or a forwarded command to a child
// device.
package firmware
