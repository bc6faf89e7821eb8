package neutts

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/neutts-openai/internal/backend"
)

type fakeWorker struct {
	lastInfer InferRequest
	pcm       []byte
	mu        sync.Mutex
	healthy   atomic.Bool
}

func (f *fakeWorker) last() InferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lastInfer
}

func (f *fakeWorker) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		if !f.healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("POST /encode", func(w http.ResponseWriter, r *http.Request) {
		var req EncodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !strings.HasSuffix(req.AudioPath, ".wav") {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":"not a wav file"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(EncodeResponse{Codes: []int32{7, 8, 9}})
	})

	mux.HandleFunc("POST /infer", func(w http.ResponseWriter, r *http.Request) {
		var req InferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.lastInfer = req
		f.mu.Unlock()

		w.Header().Set("X-Sample-Rate", "24000")
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(f.pcm)
	})

	return mux
}

func newTestBackend(t *testing.T, worker *fakeWorker) *Backend {
	t.Helper()

	srv := httptest.NewServer(worker.handler())
	t.Cleanup(srv.Close)

	return NewBackend(Options{
		WorkerURL:    srv.URL,
		Backbone:     "neuphonic/neutts-nano-german-q4-gguf",
		ReadyTimeout: 3 * time.Second,
		InferTimeout: 3 * time.Second,
	}, backend.NewServerManager())
}

func reference() *backend.Reference {
	return &backend.Reference{Codes: []int32{1, 2, 3}, Text: "Hallo, ich bin Greta."}
}

func TestBackend_RequiresLoad(t *testing.T) {
	b := newTestBackend(t, &fakeWorker{})

	_, err := b.Infer(context.Background(), &backend.Request{Input: strings.NewReader("x"), Reference: reference()})
	assert.ErrorIs(t, err, backend.ErrNotLoaded)
}

func TestBackend_LoadWaitsForHealth(t *testing.T) {
	worker := &fakeWorker{}
	b := newTestBackend(t, worker)

	go func() {
		time.Sleep(600 * time.Millisecond)
		worker.healthy.Store(true)
	}()

	require.NoError(t, b.Load(context.Background()))
}

func TestBackend_LoadTimesOut(t *testing.T) {
	b := newTestBackend(t, &fakeWorker{})
	b.opts.ReadyTimeout = 200 * time.Millisecond

	err := b.Load(context.Background())
	assert.ErrorContains(t, err, "not healthy")
}

func TestBackend_Infer(t *testing.T) {
	worker := &fakeWorker{pcm: []byte{0, 1, 2, 3, 4, 5}}
	worker.healthy.Store(true)
	b := newTestBackend(t, worker)
	require.NoError(t, b.Load(context.Background()))

	resp, err := b.Infer(context.Background(), &backend.Request{
		Input:      strings.NewReader("Guten Tag"),
		Reference:  reference(),
		Parameters: map[string]any{"temperature": 0.7},
	})
	require.NoError(t, err)

	pcm, err := io.ReadAll(resp.Output)
	require.NoError(t, err)
	assert.Equal(t, worker.pcm, pcm)
	assert.Equal(t, 24000, resp.SampleRate)
	assert.Equal(t, BackendName, resp.Metadata.Provider)

	last := worker.last()
	assert.Equal(t, "Guten Tag", last.Text)
	assert.Equal(t, []int32{1, 2, 3}, last.RefCodes)
	assert.Equal(t, "Hallo, ich bin Greta.", last.RefText)
	require.NotNil(t, last.Temperature)
	assert.InDelta(t, 0.7, *last.Temperature, 1e-9)
	assert.Nil(t, last.TopK)
}

func TestBackend_InferWithoutReference(t *testing.T) {
	worker := &fakeWorker{}
	worker.healthy.Store(true)
	b := newTestBackend(t, worker)
	require.NoError(t, b.Load(context.Background()))

	_, err := b.Infer(context.Background(), &backend.Request{Input: strings.NewReader("x")})
	assert.ErrorContains(t, err, "voice reference")
}

func TestBackend_InferStream(t *testing.T) {
	worker := &fakeWorker{pcm: bytes.Repeat([]byte{1, 0}, streamChunkSize)}
	worker.healthy.Store(true)
	b := newTestBackend(t, worker)
	require.NoError(t, b.Load(context.Background()))

	ch, err := b.InferStream(context.Background(), &backend.Request{Input: strings.NewReader("Hallo"), Reference: reference()})
	require.NoError(t, err)

	var (
		got    []byte
		chunks int
		done   bool
	)
	for c := range ch {
		require.NoError(t, c.Error)
		got = append(got, c.Data...)
		if len(c.Data) > 0 {
			chunks++
			assert.Zero(t, len(c.Data)%2)
		}
		done = done || c.Done
	}

	assert.True(t, done)
	assert.Equal(t, 2, chunks)
	assert.Equal(t, worker.pcm, got)
}

func TestBackend_InferStreamStopsWhenAbandoned(t *testing.T) {
	// Far more audio than the stream buffer holds.
	worker := &fakeWorker{pcm: bytes.Repeat([]byte{1, 0}, 40*streamChunkSize/2)}
	worker.healthy.Store(true)
	b := newTestBackend(t, worker)
	require.NoError(t, b.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := b.InferStream(ctx, &backend.Request{Input: strings.NewReader("Hallo"), Reference: reference()})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(ch) == cap(ch) }, 2*time.Second, 5*time.Millisecond)

	cancel()

	closed := make(chan struct{})
	go func() {
		for range ch {
		}
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream goroutine kept running after cancellation")
	}
}

func TestBackend_EncodeReference(t *testing.T) {
	worker := &fakeWorker{}
	worker.healthy.Store(true)
	b := newTestBackend(t, worker)
	require.NoError(t, b.Load(context.Background()))

	codes, err := b.EncodeReference(context.Background(), "/app/voices/anna.wav")
	require.NoError(t, err)
	assert.Equal(t, []int32{7, 8, 9}, codes)

	_, err = b.EncodeReference(context.Background(), "/app/voices/anna.mp3")
	assert.ErrorContains(t, err, "not a wav file")
}

func TestBackend_CloseExternalWorker(t *testing.T) {
	worker := &fakeWorker{}
	worker.healthy.Store(true)
	b := newTestBackend(t, worker)
	require.NoError(t, b.Load(context.Background()))

	require.NoError(t, b.Close())

	_, err := b.EncodeReference(context.Background(), "/a.wav")
	assert.ErrorIs(t, err, backend.ErrNotLoaded)
}

func TestWorkerArgs(t *testing.T) {
	b := NewBackend(Options{
		WorkerBin:      "neutts-worker",
		Backbone:       "/models/backbone",
		Codec:          "/models/codec",
		BackboneDevice: "cpu",
		CodecDevice:    "cuda",
		Port:           8137,
	}, backend.NewServerManager())

	assert.Equal(t, []string{
		"--backbone", "/models/backbone",
		"--backbone-device", "cpu",
		"--codec", "/models/codec",
		"--codec-device", "cuda",
		"--host", "127.0.0.1",
		"--port", "8137",
	}, b.workerArgs())
	assert.Equal(t, "http://127.0.0.1:8137", b.baseURL)
}
