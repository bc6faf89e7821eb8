// Package neutts drives a NeuTTS worker process that holds the backbone and
// codec models and speaks a small JSON/PCM protocol over HTTP.
package neutts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ekisa-team/neutts-openai/internal/backend"
	"github.com/ekisa-team/neutts-openai/mapsafe"
)

const (
	BackendName = backend.BackendProviderNeuTTS

	// NativeSampleRate is the rate NeuCodec decodes to.
	NativeSampleRate = 24000

	sampleRateHeader = "X-Sample-Rate"
	streamChunkSize  = 4800 // 100 ms of s16le at 24 kHz, even so samples stay whole
)

// Options configures the worker.
type Options struct {
	// WorkerBin is the worker executable started by the backend.
	WorkerBin string

	// WorkerURL points at an already running worker. WorkerBin is ignored
	// when it is set.
	WorkerURL string

	Backbone       string
	Codec          string
	BackboneDevice string
	CodecDevice    string
	HFHome         string
	HFToken        string

	Port         int
	ReadyTimeout time.Duration
	InferTimeout time.Duration
}

// Backend implements backend.Backend for NeuTTS.
type Backend struct {
	serverManager *backend.ServerManager
	client        *http.Client
	baseURL       string
	opts          Options
	loaded        atomic.Bool
}

// InferRequest is the body of POST /infer.
type InferRequest struct {
	Text        string   `json:"text"`
	RefText     string   `json:"ref_text"`
	RefCodes    []int32  `json:"ref_codes"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}

// EncodeRequest is the body of POST /encode.
type EncodeRequest struct {
	AudioPath string `json:"audio_path"`
}

// EncodeResponse is the answer of POST /encode.
type EncodeResponse struct {
	Codes []int32 `json:"codes"`
}

type workerError struct {
	Detail string `json:"detail"`
}

// NewBackend creates a new Backend instance.
func NewBackend(opts Options, serverManager *backend.ServerManager) *Backend {
	baseURL := strings.TrimRight(opts.WorkerURL, "/")
	if baseURL == "" {
		baseURL = backend.ServerConfig{Port: opts.Port}.BaseURL()
	}

	return &Backend{
		opts:          opts,
		serverManager: serverManager,
		client:        &http.Client{},
		baseURL:       baseURL,
	}
}

// Provider implements backend.Backend.
func (b *Backend) Provider() backend.BackendProvider {
	return BackendName
}

// SampleRate implements backend.Backend.
func (b *Backend) SampleRate() int {
	return NativeSampleRate
}

// Load implements backend.Loader. It starts the worker, or waits for the
// external one, and returns once /health answers.
func (b *Backend) Load(ctx context.Context) error {
	if b.opts.WorkerURL != "" {
		if err := b.waitHealthy(ctx); err != nil {
			return fmt.Errorf("neutts: worker at %s is not healthy: %w", b.baseURL, err)
		}
		b.loaded.Store(true)
		return nil
	}

	env := map[string]string{}
	if b.opts.HFHome != "" {
		env["HF_HOME"] = b.opts.HFHome
	}
	if b.opts.HFToken != "" {
		env["HF_TOKEN"] = b.opts.HFToken
	}

	if err := b.serverManager.StartServer(ctx, backend.ServerConfig{
		Name:         string(BackendName),
		BinPath:      b.opts.WorkerBin,
		Args:         b.workerArgs(),
		Env:          env,
		Port:         b.opts.Port,
		HealthPath:   "/health",
		ReadyTimeout: b.opts.ReadyTimeout,
	}); err != nil {
		return fmt.Errorf("neutts: failed to start worker: %w", err)
	}

	b.loaded.Store(true)
	return nil
}

func (b *Backend) workerArgs() []string {
	return []string{
		"--backbone", b.opts.Backbone,
		"--backbone-device", b.opts.BackboneDevice,
		"--codec", b.opts.Codec,
		"--codec-device", b.opts.CodecDevice,
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(b.opts.Port),
	}
}

func (b *Backend) waitHealthy(ctx context.Context) error {
	timeout := b.opts.ReadyTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/health", http.NoBody)
		if err != nil {
			return err
		}

		resp, err := b.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// EncodeReference implements backend.ReferenceEncoder.
func (b *Backend) EncodeReference(ctx context.Context, audioPath string) ([]int32, error) {
	if !b.loaded.Load() {
		return nil, backend.ErrNotLoaded
	}

	ctx, cancel := context.WithTimeout(ctx, b.inferTimeout())
	defer cancel()

	resp, err := b.post(ctx, "/encode", EncodeRequest{AudioPath: audioPath})
	if err != nil {
		return nil, fmt.Errorf("neutts: encode %s: %w", audioPath, err)
	}
	defer resp.Body.Close()

	var out EncodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("neutts: failed to decode encode response: %w", err)
	}
	if len(out.Codes) == 0 {
		return nil, fmt.Errorf("neutts: worker returned no codes for %s", audioPath)
	}

	return out.Codes, nil
}

// Infer implements backend.Backend.
func (b *Backend) Infer(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	if !b.loaded.Load() {
		return nil, backend.ErrNotLoaded
	}

	body, err := b.buildInferRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.inferTimeout())
	defer cancel()

	start := time.Now()

	resp, err := b.post(ctx, "/infer", body)
	if err != nil {
		return nil, fmt.Errorf("neutts: infer: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("neutts: failed to read audio: %w", err)
	}

	rate := sampleRate(resp.Header)

	return &backend.Response{
		Output:     bytes.NewReader(pcm),
		SampleRate: rate,
		Metadata: &backend.ResponseMetadata{
			Provider:        b.Provider(),
			Model:           b.opts.Backbone,
			Timestamp:       time.Now(),
			OutputBytes:     int64(len(pcm)),
			DurationSeconds: time.Since(start).Seconds(),
		},
	}, nil
}

// InferStream implements backend.StreamingBackend.
func (b *Backend) InferStream(ctx context.Context, req *backend.Request) (<-chan backend.StreamChunk, error) {
	if !b.loaded.Load() {
		return nil, backend.ErrNotLoaded
	}

	body, err := b.buildInferRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.inferTimeout())

	resp, err := b.post(ctx, "/infer?stream=true", body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("neutts: infer stream: %w", err)
	}

	ch := make(chan backend.StreamChunk, 16)

	go func() {
		defer close(ch)
		defer cancel()
		defer resp.Body.Close()

		// A consumer that stops reading cancels ctx; no send may outlive it.
		send := func(c backend.StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			buf := make([]byte, streamChunkSize)
			n, err := io.ReadFull(resp.Body, buf)
			if n > 0 && !send(backend.StreamChunk{Data: buf[:n]}) {
				return
			}

			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				send(backend.StreamChunk{Done: true})
				return
			}
			if err != nil {
				send(backend.StreamChunk{Error: fmt.Errorf("neutts: stream read: %w", err), Done: true})
				return
			}
		}
	}()

	return ch, nil
}

// Close implements backend.Backend.
func (b *Backend) Close() error {
	if !b.loaded.Swap(false) || b.opts.WorkerURL != "" {
		return nil
	}

	return b.serverManager.StopServer(string(BackendName), b.opts.Port)
}

func (b *Backend) buildInferRequest(req *backend.Request) (*InferRequest, error) {
	if req.Reference == nil || len(req.Reference.Codes) == 0 {
		return nil, errors.New("neutts: a voice reference with codes is required")
	}

	text, err := io.ReadAll(req.Input)
	if err != nil {
		return nil, fmt.Errorf("neutts: failed to read input: %w", err)
	}

	out := &InferRequest{
		Text:     string(text),
		RefCodes: req.Reference.Codes,
		RefText:  req.Reference.Text,
	}

	p := req.Parameters
	if v := mapsafe.Get(p, "temperature", -1.0); v >= 0 {
		out.Temperature = &v
	}
	if v := mapsafe.Get(p, "top_k", 0); v > 0 {
		out.TopK = &v
	}

	return out, nil
}

func (b *Backend) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var we workerError
		if json.Unmarshal(raw, &we) == nil && we.Detail != "" {
			return nil, fmt.Errorf("worker returned %d: %s", resp.StatusCode, we.Detail)
		}
		return nil, fmt.Errorf("worker returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	return resp, nil
}

func (b *Backend) inferTimeout() time.Duration {
	if b.opts.InferTimeout > 0 {
		return b.opts.InferTimeout
	}
	return 2 * time.Minute
}

func sampleRate(h http.Header) int {
	if rate, err := strconv.Atoi(h.Get(sampleRateHeader)); err == nil && rate > 0 {
		return rate
	}
	return NativeSampleRate
}
