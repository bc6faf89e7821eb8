package archive_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/neutts-openai/internal/archive"
)

// startTestServer starts an in-memory NATS server with JetStream.
func startTestServer(t *testing.T) *server.Server {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()

	srv := test.RunServer(&opts)
	t.Cleanup(srv.Shutdown)

	return srv
}

func TestArchive_PutGet(t *testing.T) {
	srv := startTestServer(t)

	a, err := archive.Connect(srv.ClientURL(), "SPEECH_AUDIO")
	require.NoError(t, err)
	defer a.Close()

	entry := archive.Entry{
		ID:          "0b9f5d8e-5c43-4c3e-9d1c-7d8f1f0c2a11",
		Voice:       "greta",
		Format:      "mp3",
		ContentType: "audio/mpeg",
		Data:        []byte("ID3 fake mp3"),
		LatencyMS:   412.5,
		CreatedAt:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	ctx := context.Background()
	require.NoError(t, a.Put(ctx, entry))

	data, meta, err := a.Get(ctx, entry.Key())
	require.NoError(t, err)

	assert.Equal(t, entry.Data, data)
	assert.Equal(t, "greta", meta["voice"])
	assert.Equal(t, "audio/mpeg", meta["content_type"])
	assert.Equal(t, "412.50", meta["latency_ms"])
}

func TestArchive_BindsExistingBucket(t *testing.T) {
	srv := startTestServer(t)

	first, err := archive.Connect(srv.ClientURL(), "SPEECH_AUDIO")
	require.NoError(t, err)
	defer first.Close()

	second, err := archive.Connect(srv.ClientURL(), "SPEECH_AUDIO")
	require.NoError(t, err)
	defer second.Close()

	ctx := context.Background()
	require.NoError(t, first.Put(ctx, archive.Entry{ID: "a", Format: "wav", Data: []byte("RIFF")}))

	data, _, err := second.Get(ctx, "a.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), data)
}

func TestArchive_GetMissing(t *testing.T) {
	srv := startTestServer(t)

	a, err := archive.Connect(srv.ClientURL(), "SPEECH_AUDIO")
	require.NoError(t, err)
	defer a.Close()

	_, _, err = a.Get(context.Background(), "missing.mp3")
	assert.Error(t, err)
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := archive.Connect("nats://127.0.0.1:1", "SPEECH_AUDIO")
	assert.Error(t, err)
}
