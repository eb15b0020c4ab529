// Package filerepo tracks the name/hash/path of every file completed
// through the chunked transfer path, backed by zombiezen.com/go/sqlite
// via internal/sqlitedb. Files fetched by URL download are not recorded.
package filerepo
