package backend

import (
	"context"
	"io"
	"time"
)

// BackendProvider is a string identifier for a backend provider.
type BackendProvider string

const (
	BackendProviderNeuTTS BackendProvider = "neutts"
	BackendProviderPiper  BackendProvider = "piper"
)

// Backend defines the core interface for speech synthesis backends. Output
// is always raw mono PCM, signed 16-bit little endian.
type Backend interface {
	// Provider returns the backend identifier.
	Provider() BackendProvider

	// SampleRate returns the rate of the PCM the backend produces.
	SampleRate() int

	// Infer synthesizes the complete utterance.
	Infer(ctx context.Context, req *Request) (*Response, error)

	// Close cleans up resources.
	Close() error
}

// StreamingBackend is an optional interface for backends that can return PCM
// while synthesis is still running.
type StreamingBackend interface {
	Backend

	// InferStream synthesizes and streams PCM chunks as they are produced.
	InferStream(ctx context.Context, req *Request) (<-chan StreamChunk, error)
}

// ReferenceEncoder is implemented by backends that clone voices from a
// reference recording.
type ReferenceEncoder interface {
	// EncodeReference turns a reference WAV file into codec codes.
	EncodeReference(ctx context.Context, audioPath string) ([]int32, error)
}

// Loader is implemented by backends with an expensive startup step.
type Loader interface {
	// Load prepares the backend and blocks until it can serve requests.
	Load(ctx context.Context) error
}

// Reference is the voice a request is synthesized with.
type Reference struct {
	// AudioPath is the reference recording.
	AudioPath string

	// Text is the transcript of the reference recording, if known.
	Text string

	// Codes are the codec codes of the recording.
	Codes []int32
}

// Request encapsulates all parameters for an inference call.
type Request struct {
	// Input is the text to speak.
	Input io.Reader

	// Reference is the voice to clone; backends without voice cloning ignore it.
	Reference *Reference

	// Parameters contains backend-specific inference parameters.
	Parameters map[string]any
}

// Response contains the result of an inference operation.
type Response struct {
	// Output is raw s16le mono PCM.
	Output io.Reader

	// Metadata contains backend-specific information.
	Metadata *ResponseMetadata

	// SampleRate is the rate of Output.
	SampleRate int
}

// ResponseMetadata contains metadata about the response.
type ResponseMetadata struct {
	Timestamp       time.Time       `json:"timestamp"`
	BackendSpecific map[string]any  `json:"backend_specific,omitempty"`
	Provider        BackendProvider `json:"provider"`
	Model           string          `json:"model"`
	OutputBytes     int64           `json:"output_bytes"`
	DurationSeconds float64         `json:"duration_seconds"`
}

// StreamChunk represents a single chunk in a streaming response.
type StreamChunk struct {
	// Error if something went wrong.
	Error error

	// Data is the chunk content.
	Data []byte

	// Done indicates if this is the final chunk.
	Done bool
}
