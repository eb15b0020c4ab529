// Package urldownload implements the URL-sourced firmware download
// path: a pluggable UrlFileDownloader fetches a whole file over HTTP,
// independent of the chunked transfer service.
package urldownload
