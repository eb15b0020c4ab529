package persistence

import (
	"context"

	"github.com/edgelink/gateway/wire"
)

// NoopStore discards every message. The device-side publisher uses this:
// the device broker is expected to be present, so persistence across
// restarts is not required on that side.
type NoopStore struct{}

func (NoopStore) Save(_ context.Context, msg wire.PublishedMessage) (wire.PublishedMessage, error) {
	return msg, nil
}

func (NoopStore) Remove(_ context.Context, _ int64) error { return nil }

func (NoopStore) LoadAll(_ context.Context) ([]wire.PublishedMessage, error) { return nil, nil }
