package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/edgelink/gateway/internal/sqlitedb"
	"github.com/edgelink/gateway/wire"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	channel     TEXT NOT NULL,
	content     TEXT NOT NULL,
	enqueued_at INTEGER NOT NULL
);
`

// SQLiteStore is the platform side's durable pending-message queue,
// backed by zombiezen.com/go/sqlite.
type SQLiteStore struct {
	pool   *sqlitedb.Pool
	logger *slog.Logger
}

// Open creates or opens a SQLiteStore at path.
func Open(path string, logger *slog.Logger) (*SQLiteStore, error) {
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
		return nil, fmt.Errorf("persistence: open: %w", err)
	}
	return &SQLiteStore{pool: pool, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *SQLiteStore) Close() error {
	return s.pool.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, msg wire.PublishedMessage) (wire.PublishedMessage, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return wire.PublishedMessage{}, err
	}
	defer s.pool.Put(conn)

	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}

	err = sqlitex.Execute(conn,
		"INSERT INTO pending_messages (channel, content, enqueued_at) VALUES (?, ?, ?)",
		&sqlitex.ExecOptions{
			Args: []any{msg.Channel, msg.Content, msg.EnqueuedAt.UnixNano()},
		})
	if err != nil {
		return wire.PublishedMessage{}, fmt.Errorf("persistence: save: %w", err)
	}

	msg.ID = conn.LastInsertRowID()
	return msg, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, id int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM pending_messages WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
	})
	if err != nil {
		return fmt.Errorf("persistence: remove: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadAll(ctx context.Context) ([]wire.PublishedMessage, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var messages []wire.PublishedMessage
	err = sqlitex.Execute(conn,
		"SELECT id, channel, content, enqueued_at FROM pending_messages ORDER BY id ASC",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				messages = append(messages, wire.PublishedMessage{
					ID:         stmt.ColumnInt64(0),
					Channel:    stmt.ColumnText(1),
					Content:    stmt.ColumnText(2),
					EnqueuedAt: time.Unix(0, stmt.ColumnInt64(3)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("persistence: load all: %w", err)
	}
	return messages, nil
}
