package keepalive

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingOutbound struct {
	mu    sync.Mutex
	count int
}

func (o *recordingOutbound) Publish(_ context.Context, _ string, _ []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.count++
	return nil
}

func (o *recordingOutbound) pings() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

func TestService_PingsOnInterval(t *testing.T) {
	out := &recordingOutbound{}
	svc := New("gw", 10*time.Millisecond, out, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	require.Eventually(t, func() bool { return out.pings() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestService_RecordsPlatformTimestamp(t *testing.T) {
	svc := New("gw", time.Hour, &recordingOutbound{}, nil)

	_, ok := svc.PlatformTimestamp()
	assert.False(t, ok)

	body, err := json.Marshal(pingResponsePayload{Timestamp: 1700000000000})
	require.NoError(t, err)
	require.NoError(t, svc.HandlePingResponse(context.Background(), body))

	ts, ok := svc.PlatformTimestamp()
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), ts.UnixMilli())
}

func TestService_StopIsIdempotentWithoutStart(t *testing.T) {
	svc := New("gw", time.Hour, &recordingOutbound{}, nil)
	svc.Stop()
}
