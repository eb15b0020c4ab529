// Package devicerepo is the persistent device and template repository:
// a digest-deduplicated, transactional store backed by
// zombiezen.com/go/sqlite.
package devicerepo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/edgelink/gateway/internal/sqlitedb"
	"github.com/edgelink/gateway/wire"
)

// Repository is the device + template store. All operations are
// serialized under a single mutex: sqlite itself serializes writes, but
// the mutex additionally protects the digest-dedup read-then-write race
// between Save calls arriving from the platform and device command
// buffers concurrently.
type Repository struct {
	pool   *sqlitedb.Pool
	mu     sync.Mutex
	logger *slog.Logger
}

// Open creates or opens a Repository at path.
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
		return nil, fmt.Errorf("devicerepo: open: %w", err)
	}
	return &Repository{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (r *Repository) Close() error {
	return r.pool.Close()
}

// Save upserts device. It computes the template digest; if a device row
// with the same key already exists it is removed and fully replaced. If
// a template row with the same digest exists, the device is linked to
// it; otherwise a new template row (and its child rows) is inserted
// within the same transaction as the device row.
func (r *Repository) Save(ctx context.Context, device wire.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	endTxn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("devicerepo: save: begin: %w", err)
	}
	defer endTxn(&err)

	existingTemplateID, exists, err := r.templateIDForDevice(conn, device.Key)
	if err != nil {
		return err
	}
	if exists {
		if err := r.removeDeviceRow(conn, device.Key, existingTemplateID); err != nil {
			return err
		}
	}

	digest := device.Template.Digest()
	templateID, found, err := r.templateIDForDigest(conn, digest)
	if err != nil {
		return err
	}
	if !found {
		templateID, err = r.insertTemplate(conn, digest, device.Template)
		if err != nil {
			return err
		}
	}

	err = sqlitex.Execute(conn,
		"INSERT INTO devices (key, password, template_id) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{Args: []any{device.Key, device.Password, templateID}})
	if err != nil {
		return fmt.Errorf("devicerepo: save: insert device: %w", err)
	}
	return nil
}

// Remove deletes the device with the given key. If no other device
// references its template, the template row (and its child rows, via
// cascade) is removed too, in the same transaction.
func (r *Repository) Remove(ctx context.Context, deviceKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	endTxn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("devicerepo: remove: begin: %w", err)
	}
	defer endTxn(&err)

	templateID, exists, err := r.templateIDForDevice(conn, deviceKey)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return r.removeDeviceRow(conn, deviceKey, templateID)
}

// removeDeviceRow deletes the device row and, if it was the last
// reference, the template row. Must run inside an open transaction.
func (r *Repository) removeDeviceRow(conn *sqlite.Conn, deviceKey string, templateID int64) error {
	err := sqlitex.Execute(conn, "DELETE FROM devices WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{deviceKey},
	})
	if err != nil {
		return fmt.Errorf("devicerepo: delete device: %w", err)
	}

	var remaining int64
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM devices WHERE template_id = ?", &sqlitex.ExecOptions{
		Args: []any{templateID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			remaining = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("devicerepo: count devices for template: %w", err)
	}
	if remaining > 0 {
		return nil
	}

	err = sqlitex.Execute(conn, "DELETE FROM templates WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{templateID},
	})
	if err != nil {
		return fmt.Errorf("devicerepo: delete template: %w", err)
	}
	return nil
}

// RemoveAll deletes every device (and the templates they leave
// orphaned), one Remove call per key.
func (r *Repository) RemoveAll(ctx context.Context) error {
	keys, err := r.FindAllDeviceKeys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := r.Remove(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// FindByDeviceKey reconstructs the full device and its template from
// the normalized tables.
func (r *Repository) FindByDeviceKey(ctx context.Context, key string) (wire.Device, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return wire.Device{}, false, err
	}
	defer r.pool.Put(conn)

	var password string
	var templateID int64
	found := false
	err = sqlitex.Execute(conn, "SELECT password, template_id FROM devices WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			password = stmt.ColumnText(0)
			templateID = stmt.ColumnInt64(1)
			found = true
			return nil
		},
	})
	if err != nil {
		return wire.Device{}, false, fmt.Errorf("devicerepo: find device: %w", err)
	}
	if !found {
		return wire.Device{}, false, nil
	}

	template, err := r.loadTemplate(conn, templateID)
	if err != nil {
		return wire.Device{}, false, err
	}

	return wire.Device{Key: key, Password: password, Template: template}, true, nil
}

// FindAllDeviceKeys returns every registered device key.
func (r *Repository) FindAllDeviceKeys(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	var keys []string
	err = sqlitex.Execute(conn, "SELECT key FROM devices ORDER BY key ASC", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			keys = append(keys, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("devicerepo: find all keys: %w", err)
	}
	return keys, nil
}

// ContainsDeviceWithKey reports whether a device with the given key is
// registered.
func (r *Repository) ContainsDeviceWithKey(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer r.pool.Put(conn)

	_, exists, err := r.templateIDForDevice(conn, key)
	return exists, err
}

func (r *Repository) templateIDForDevice(conn *sqlite.Conn, key string) (int64, bool, error) {
	var templateID int64
	found := false
	err := sqlitex.Execute(conn, "SELECT template_id FROM devices WHERE key = ?", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			templateID = stmt.ColumnInt64(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return 0, false, fmt.Errorf("devicerepo: lookup device template: %w", err)
	}
	return templateID, found, nil
}

func (r *Repository) templateIDForDigest(conn *sqlite.Conn, digest string) (int64, bool, error) {
	var templateID int64
	found := false
	err := sqlitex.Execute(conn, "SELECT id FROM templates WHERE digest = ?", &sqlitex.ExecOptions{
		Args: []any{digest},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			templateID = stmt.ColumnInt64(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return 0, false, fmt.Errorf("devicerepo: lookup template by digest: %w", err)
	}
	return templateID, found, nil
}
