package piper

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/neutts-openai/internal/backend"
)

type fakeRunner struct {
	args  []string
	input string
	out   []byte
}

func (f *fakeRunner) Run(_ context.Context, _ string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	f.args = args
	in, _ := io.ReadAll(stdin)
	f.input = string(in)
	return f.out, nil, nil
}

func (f *fakeRunner) Start(_ context.Context, _ string, args []string, _ io.Reader) (io.ReadCloser, io.ReadCloser, func() error, error) {
	f.args = args
	return io.NopCloser(bytes.NewReader(f.out)), io.NopCloser(strings.NewReader("")), func() error { return nil }, nil
}

func modelDir(t *testing.T, card string) string {
	t.Helper()

	dir := t.TempDir()
	model := filepath.Join(dir, "de_DE-thorsten-medium.onnx")
	require.NoError(t, os.WriteFile(model, []byte("onnx"), 0o600))
	if card != "" {
		require.NoError(t, os.WriteFile(model+".json", []byte(card), 0o600))
	}
	return dir
}

func TestBackend_LoadReadsModelCard(t *testing.T) {
	dir := modelDir(t, `{"audio":{"sample_rate":16000}}`)
	b := NewBackendWithExecutor(backend.NewExecutorWithRunner("piper", time.Second, &fakeRunner{}), dir)

	require.NoError(t, b.Load(context.Background()))

	assert.Equal(t, 16000, b.SampleRate())
	assert.Equal(t, filepath.Join(dir, "de_DE-thorsten-medium.onnx"), b.currentModel())
}

func TestBackend_LoadDefaultsSampleRate(t *testing.T) {
	dir := modelDir(t, "")
	b := NewBackendWithExecutor(backend.NewExecutorWithRunner("piper", time.Second, &fakeRunner{}), dir)

	require.NoError(t, b.Load(context.Background()))
	assert.Equal(t, defaultSampleRate, b.SampleRate())
}

func TestBackend_LoadMissingModel(t *testing.T) {
	b := NewBackendWithExecutor(backend.NewExecutorWithRunner("piper", time.Second, &fakeRunner{}), t.TempDir())

	assert.ErrorContains(t, b.Load(context.Background()), "no .onnx model")
}

func TestBackend_Infer(t *testing.T) {
	runner := &fakeRunner{out: []byte{1, 0, 2, 0}}
	dir := modelDir(t, `{"audio":{"sample_rate":22050}}`)
	b := NewBackendWithExecutor(backend.NewExecutorWithRunner("piper", time.Second, runner), dir)
	require.NoError(t, b.Load(context.Background()))

	resp, err := b.Infer(context.Background(), &backend.Request{
		Input:      strings.NewReader("Moin"),
		Reference:  &backend.Reference{Codes: []int32{1}},
		Parameters: map[string]any{"length_scale": 0.8, "speaker_id": float64(2)},
	})
	require.NoError(t, err)

	pcm, err := io.ReadAll(resp.Output)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0}, pcm)
	assert.Equal(t, 22050, resp.SampleRate)
	assert.Equal(t, "Moin", runner.input)
	assert.Equal(t, []string{
		"--model", filepath.Join(dir, "de_DE-thorsten-medium.onnx"),
		"--output-raw",
		"--speaker", "2",
		"--length_scale", "0.80",
	}, runner.args)
}

func TestBackend_InferStream(t *testing.T) {
	runner := &fakeRunner{out: bytes.Repeat([]byte{0, 1}, 100)}
	b := NewBackendWithExecutor(backend.NewExecutorWithRunner("piper", time.Second, runner), modelDir(t, ""))
	require.NoError(t, b.Load(context.Background()))

	ch, err := b.InferStream(context.Background(), &backend.Request{Input: strings.NewReader("Moin")})
	require.NoError(t, err)

	var got []byte
	for c := range ch {
		require.NoError(t, c.Error)
		got = append(got, c.Data...)
	}
	assert.Equal(t, runner.out, got)
}
