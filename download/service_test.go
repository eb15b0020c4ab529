package download

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgelink/gateway/filerepo"
	"github.com/edgelink/gateway/wire"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: make(map[string][]byte)} }

func (m *memStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	return nil
}
func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}
func (m *memStore) List(_ context.Context, _ string) ([]string, error) { return nil, nil }
func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type recordingOutbound struct {
	mu        sync.Mutex
	published []struct {
		channel string
		payload []byte
	}
}

func (o *recordingOutbound) Publish(_ context.Context, channel string, payload []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.published = append(o.published, struct {
		channel string
		payload []byte
	}{channel, payload})
	return nil
}

func (o *recordingOutbound) channels() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for _, p := range o.published {
		out = append(out, p.channel)
	}
	return out
}

func (o *recordingOutbound) last() ([]byte, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.published[len(o.published)-1]
	return p.payload, p.channel
}

func openFiles(t *testing.T) *filerepo.Repository {
	t.Helper()
	repo, err := filerepo.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func splitChunks(data []byte, size int) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

func buildChunkPayload(t *testing.T, previousHash, payload []byte) []byte {
	t.Helper()
	sum := sha256.Sum256(payload)
	body, err := json.Marshal(chunkPayload{PreviousHash: previousHash, Payload: payload, CurrentHash: sum[:]})
	require.NoError(t, err)
	return body
}

func TestService_ChunkedTransferSucceeds(t *testing.T) {
	files := openFiles(t)
	store := newMemStore()
	out := &recordingOutbound{}
	svc := New("gw", store, files, out, WithMaxPacketSize(1024))
	t.Cleanup(svc.Close)

	data := make([]byte, 3000)
	for i := range data {
		data[i] = byte(i)
	}
	chunks := splitChunks(data, 1024)
	require.Len(t, chunks, 3)

	overall := sha256.Sum256(data)
	initBody, err := json.Marshal(initiatePayload{Name: "fw.bin", Size: int64(len(data)), Hash: base64.StdEncoding.EncodeToString(overall[:])})
	require.NoError(t, err)

	require.NoError(t, svc.Initiate(context.Background(), "dev", initBody))
	assert.Equal(t, []string{"d2p/file_upload_packet_request/g/gw/d/dev"}, out.channels())

	var previousHash []byte
	for i, chunk := range chunks {
		body := buildChunkPayload(t, previousHash, chunk)
		require.NoError(t, svc.HandleChunk(context.Background(), "dev", body))
		sum := sha256.Sum256(chunk)
		previousHash = sum[:]
		if i < len(chunks)-1 {
			payload, channel := out.last()
			assert.Equal(t, "d2p/file_upload_packet_request/g/gw/d/dev", channel)
			var req packetRequestPayload
			require.NoError(t, json.Unmarshal(payload, &req))
			assert.Equal(t, i+1, req.ChunkIndex)
		}
	}

	payload, channel := out.last()
	assert.Equal(t, "d2p/file_upload_status/g/gw/d/dev", channel)
	var status statusPayload
	require.NoError(t, json.Unmarshal(payload, &status))
	assert.Equal(t, wire.FileUploadReady.String(), status.Status)

	info, found, err := files.Find(context.Background(), "fw.bin")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "dev/fw.bin", info.Path)

	stored, err := store.Get(context.Background(), "dev/fw.bin")
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestService_InitiateRejectsWhileTransferInProgress(t *testing.T) {
	files := openFiles(t)
	store := newMemStore()
	out := &recordingOutbound{}
	svc := New("gw", store, files, out, WithMaxPacketSize(1024))
	t.Cleanup(svc.Close)

	data := make([]byte, 2048)
	overall := sha256.Sum256(data)
	initBody, err := json.Marshal(initiatePayload{Name: "fw.bin", Size: int64(len(data)), Hash: base64.StdEncoding.EncodeToString(overall[:])})
	require.NoError(t, err)
	require.NoError(t, svc.Initiate(context.Background(), "dev", initBody))

	err = svc.Initiate(context.Background(), "dev2", initBody)
	require.Error(t, err)
}

func TestService_InitiateReusesSlotImmediatelyAfterCompletion(t *testing.T) {
	files := openFiles(t)
	store := newMemStore()
	out := &recordingOutbound{}
	svc := New("gw", store, files, out, WithMaxPacketSize(1024))
	t.Cleanup(svc.Close)

	emptyHash := sha256.Sum256(nil)
	initBody, err := json.Marshal(initiatePayload{Name: "empty.bin", Size: 0, Hash: base64.StdEncoding.EncodeToString(emptyHash[:])})
	require.NoError(t, err)
	require.NoError(t, svc.Initiate(context.Background(), "dev", initBody))

	// the zero-size transfer above completes synchronously inside
	// Initiate (via finish), so a second transfer must be accepted
	// right away rather than waiting on the background GC.
	data := []byte("second transfer")
	overall := sha256.Sum256(data)
	secondBody, err := json.Marshal(initiatePayload{Name: "second.bin", Size: int64(len(data)), Hash: base64.StdEncoding.EncodeToString(overall[:])})
	require.NoError(t, err)
	require.NoError(t, svc.Initiate(context.Background(), "dev2", secondBody))
}

func TestService_AbortMidTransfer(t *testing.T) {
	files := openFiles(t)
	store := newMemStore()
	out := &recordingOutbound{}
	svc := New("gw", store, files, out, WithMaxPacketSize(1024))
	t.Cleanup(svc.Close)

	data := make([]byte, 2048)
	overall := sha256.Sum256(data)
	initBody, _ := json.Marshal(initiatePayload{Name: "fw.bin", Size: int64(len(data)), Hash: base64.StdEncoding.EncodeToString(overall[:])})
	require.NoError(t, svc.Initiate(context.Background(), "dev", initBody))

	chunks := splitChunks(data, 1024)
	require.NoError(t, svc.HandleChunk(context.Background(), "dev", buildChunkPayload(t, nil, chunks[0])))

	require.NoError(t, svc.Abort(context.Background(), "dev", "fw.bin"))

	payload, channel := out.last()
	assert.Equal(t, "d2p/file_upload_status/g/gw/d/dev", channel)
	var status statusPayload
	require.NoError(t, json.Unmarshal(payload, &status))
	assert.Equal(t, wire.FileUploadAborted.String(), status.Status)

	_, found, err := files.Find(context.Background(), "fw.bin")
	require.NoError(t, err)
	assert.False(t, found, "aborted transfer must not persist a FileInfo")
}

func TestService_CorruptChunkExhaustsRetries(t *testing.T) {
	files := openFiles(t)
	store := newMemStore()
	out := &recordingOutbound{}
	svc := New("gw", store, files, out, WithMaxPacketSize(1024), WithMaxRetries(3))
	t.Cleanup(svc.Close)

	data := make([]byte, 1024)
	overall := sha256.Sum256(data)
	initBody, _ := json.Marshal(initiatePayload{Name: "fw.bin", Size: int64(len(data)), Hash: base64.StdEncoding.EncodeToString(overall[:])})
	require.NoError(t, svc.Initiate(context.Background(), "dev", initBody))

	wrongHash := sha256.Sum256([]byte("not the chunk"))
	badBody, err := json.Marshal(chunkPayload{PreviousHash: nil, Payload: data, CurrentHash: wrongHash[:]})
	require.NoError(t, err)

	for i := 0; i <= 3; i++ {
		err := svc.HandleChunk(context.Background(), "dev", badBody)
		if i < 3 {
			require.NoError(t, err)
		} else {
			require.Error(t, err)
		}
	}

	payload, channel := out.last()
	assert.Equal(t, "d2p/file_upload_status/g/gw/d/dev", channel)
	var status statusPayload
	require.NoError(t, json.Unmarshal(payload, &status))
	assert.Equal(t, wire.ErrorRetryCountExceeded, status.Code)

	_, found, err := files.Find(context.Background(), "fw.bin")
	require.NoError(t, err)
	assert.False(t, found, "no FileInfo should be persisted when retries are exhausted")
}
