// Package persistence backs the publish package's platform-side queue
// with durable storage so outbound messages survive a gateway restart.
package persistence

import (
	"context"

	"github.com/edgelink/gateway/wire"
)

// Store persists pending outbound messages for one broker side.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save persists msg, assigning msg.ID if it is zero. Returns the
	// stored message including its assigned ID.
	Save(ctx context.Context, msg wire.PublishedMessage) (wire.PublishedMessage, error)

	// Remove deletes the message with the given ID. Removing an
	// unknown ID is not an error.
	Remove(ctx context.Context, id int64) error

	// LoadAll returns every persisted message in the order they were
	// saved, for requeueing into the in-memory buffer on startup.
	LoadAll(ctx context.Context) ([]wire.PublishedMessage, error)
}
