package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ekisa-team/neutts-openai/internal/backend"
	"github.com/ekisa-team/neutts-openai/internal/xfs"
	"github.com/ekisa-team/neutts-openai/mapsafe"
)

const (
	BackendName = backend.BackendProviderPiper

	defaultSampleRate = 22050
)

// Backend implements backend.Backend for Piper TTS. Piper has no voice
// cloning, so voice references are ignored.
type Backend struct {
	executor   *backend.Executor
	modelPath  string
	sampleRate int
	mu         sync.RWMutex
}

// modelCard is the part of <model>.onnx.json that matters here.
type modelCard struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
}

// NewBackend creates a new Piper backend.
func NewBackend(binPath, modelPath string, timeout time.Duration) (*Backend, error) {
	executor, err := backend.NewExecutor(binPath, timeout)
	if err != nil {
		return nil, err
	}

	return NewBackendWithExecutor(executor, modelPath), nil
}

// NewBackendWithExecutor creates a Piper backend on top of an executor.
func NewBackendWithExecutor(executor *backend.Executor, modelPath string) *Backend {
	return &Backend{
		executor:   executor,
		modelPath:  xfs.ExpandTilde(modelPath),
		sampleRate: defaultSampleRate,
	}
}

// Provider implements backend.Backend.
func (b *Backend) Provider() backend.BackendProvider {
	return BackendName
}

// SampleRate implements backend.Backend.
func (b *Backend) SampleRate() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.sampleRate
}

// Load implements backend.Loader. It locates the .onnx model and reads its
// sample rate from the model card.
func (b *Backend) Load(_ context.Context) error {
	modelPath, err := b.ResolveModelPath(b.modelPath)
	if err != nil {
		return err
	}

	rate := defaultSampleRate
	if raw, err := os.ReadFile(modelPath + ".json"); err == nil {
		var card modelCard
		if err := json.Unmarshal(raw, &card); err != nil {
			return fmt.Errorf("piper: invalid model card: %w", err)
		}
		if card.Audio.SampleRate > 0 {
			rate = card.Audio.SampleRate
		}
	}

	b.mu.Lock()
	b.modelPath = modelPath
	b.sampleRate = rate
	b.mu.Unlock()

	return nil
}

// ResolveModelPath returns the model file for basePath. A directory resolves to
// the first .onnx file inside it.
func (b *Backend) ResolveModelPath(basePath string) (string, error) {
	if xfs.IsFile(basePath) {
		return basePath, nil
	}
	if !xfs.IsDir(basePath) {
		return "", fmt.Errorf("piper: model %s not found", basePath)
	}

	matches, err := filepath.Glob(filepath.Join(basePath, "*.onnx"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("piper: no .onnx model in %s", basePath)
	}
	sort.Strings(matches)

	return matches[0], nil
}

// Infer synthesizes speech from text.
// Input: text bytes.
// Output: raw s16le PCM.
func (b *Backend) Infer(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	args := b.buildArgs(req)
	start := time.Now()

	// Piper reads text from stdin and writes raw samples to stdout.
	stdout, stderr, err := b.executor.Execute(ctx, args, req.Input)
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w\nstderr: %s", err, stderr)
	}

	return &backend.Response{
		Output:     bytes.NewReader(stdout),
		SampleRate: b.SampleRate(),
		Metadata: &backend.ResponseMetadata{
			Provider:        b.Provider(),
			Model:           b.currentModel(),
			Timestamp:       time.Now(),
			OutputBytes:     int64(len(stdout)),
			DurationSeconds: time.Since(start).Seconds(),
			BackendSpecific: map[string]any{
				"args": args,
			},
		},
	}, nil
}

// InferStream implements backend.StreamingBackend.
func (b *Backend) InferStream(ctx context.Context, req *backend.Request) (<-chan backend.StreamChunk, error) {
	return b.executor.Stream(ctx, b.buildArgs(req), req.Input)
}

// buildArgs builds Piper command-line arguments.
func (b *Backend) buildArgs(req *backend.Request) []string {
	args := []string{
		"--model", b.currentModel(),
		"--output-raw",
	}

	p := req.Parameters
	if p == nil {
		return args
	}

	if v := mapsafe.Get(p, "speaker_id", -1); v >= 0 {
		args = append(args, "--speaker", strconv.Itoa(v))
	}
	if v := mapsafe.Get(p, "length_scale", 0.0); v > 0 {
		args = append(args, "--length_scale", fmt.Sprintf("%.2f", v))
	}
	if v := mapsafe.Get(p, "noise_scale", 0.0); v > 0 {
		args = append(args, "--noise_scale", fmt.Sprintf("%.2f", v))
	}
	if v := mapsafe.Get(p, "noise_w", 0.0); v > 0 {
		args = append(args, "--noise_w", fmt.Sprintf("%.2f", v))
	}
	if v := mapsafe.Get(p, "sentence_silence", 0.0); v > 0 {
		args = append(args, "--sentence_silence", fmt.Sprintf("%.2f", v))
	}

	return args
}

func (b *Backend) currentModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.modelPath
}

// Close cleans up resources. Piper does not have any resources to clean up.
func (b *Backend) Close() error {
	return nil
}
