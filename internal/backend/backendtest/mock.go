// Package backendtest provides testify mocks of the backend interfaces.
package backendtest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ekisa-team/neutts-openai/internal/backend"
)

// MockBackend is a mock backend.Backend.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Provider() backend.BackendProvider {
	args := m.Called()
	return args.Get(0).(backend.BackendProvider)
}

func (m *MockBackend) SampleRate() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockBackend) Infer(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	args := m.Called(ctx, req)
	if resp, ok := args.Get(0).(*backend.Response); ok {
		return resp, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockStreamingBackend is a mock backend.StreamingBackend that can also
// encode references.
type MockStreamingBackend struct {
	MockBackend
}

func (m *MockStreamingBackend) InferStream(ctx context.Context, req *backend.Request) (<-chan backend.StreamChunk, error) {
	args := m.Called(ctx, req)
	if ch, ok := args.Get(0).(<-chan backend.StreamChunk); ok {
		return ch, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStreamingBackend) EncodeReference(ctx context.Context, audioPath string) ([]int32, error) {
	args := m.Called(ctx, audioPath)
	if codes, ok := args.Get(0).([]int32); ok {
		return codes, args.Error(1)
	}
	return nil, args.Error(1)
}

// Chunks returns a closed channel holding chunks.
func Chunks(chunks ...backend.StreamChunk) <-chan backend.StreamChunk {
	ch := make(chan backend.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}
