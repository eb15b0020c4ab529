package app

import (
	"log/slog"

	"github.com/edgelink/gateway/persistence"
	"github.com/edgelink/gateway/pkg/buffer"
	"github.com/edgelink/gateway/publish"
)

// newPublishService constructs a publish.Service and returns it as the
// narrow publishService interface app.go depends on.
func newPublishService(side string, capacity int, policy buffer.OverflowPolicy, store persistence.Store, pub publish.Publisher, logger *slog.Logger) (publishService, error) {
	return publish.New(side, capacity, policy, store, pub, publish.WithLogger(logger))
}
