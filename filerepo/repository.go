// Package filerepo persists wire.FileInfo records for files completed
// through the chunked transfer path, keyed by name. URL downloads are
// not recorded here.
package filerepo

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/edgelink/gateway/internal/sqlitedb"
	"github.com/edgelink/gateway/wire"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	name TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	path TEXT NOT NULL
);
`

// Repository is a sqlite-backed store of wire.FileInfo records.
type Repository struct {
	pool   *sqlitedb.Pool
	logger *slog.Logger
}

// Open creates or opens a file repository database at path.
func Open(path string, logger *slog.Logger) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := sqlitedb.Open(sqlitedb.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("filerepo: open: %w", err)
	}
	return &Repository{pool: pool, logger: logger}, nil
}

func (r *Repository) Close() error { return r.pool.Close() }

// Save upserts a FileInfo record.
func (r *Repository) Save(ctx context.Context, info wire.FileInfo) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("filerepo: take: %w", err)
	}
	defer r.pool.Put(conn)

	return sqlitex.Execute(conn,
		`INSERT INTO files (name, hash, path) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET hash=excluded.hash, path=excluded.path`,
		&sqlitex.ExecOptions{Args: []any{info.Name, info.Hash, info.Path}})
}

// Remove deletes the FileInfo record for name, if any.
func (r *Repository) Remove(ctx context.Context, name string) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("filerepo: take: %w", err)
	}
	defer r.pool.Put(conn)

	return sqlitex.Execute(conn, `DELETE FROM files WHERE name = ?`, &sqlitex.ExecOptions{Args: []any{name}})
}

// Find looks up a FileInfo record by name.
func (r *Repository) Find(ctx context.Context, name string) (wire.FileInfo, bool, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return wire.FileInfo{}, false, fmt.Errorf("filerepo: take: %w", err)
	}
	defer r.pool.Put(conn)

	var info wire.FileInfo
	found := false
	err = sqlitex.Execute(conn, `SELECT name, hash, path FROM files WHERE name = ?`, &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			info = wire.FileInfo{Name: stmt.GetText("name"), Hash: stmt.GetText("hash"), Path: stmt.GetText("path")}
			found = true
			return nil
		},
	})
	if err != nil {
		return wire.FileInfo{}, false, err
	}
	return info, found, nil
}

// List returns every FileInfo record, ordered by name.
func (r *Repository) List(ctx context.Context) ([]wire.FileInfo, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("filerepo: take: %w", err)
	}
	defer r.pool.Put(conn)

	var infos []wire.FileInfo
	err = sqlitex.Execute(conn, `SELECT name, hash, path FROM files ORDER BY name`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			infos = append(infos, wire.FileInfo{Name: stmt.GetText("name"), Hash: stmt.GetText("hash"), Path: stmt.GetText("path")})
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}
