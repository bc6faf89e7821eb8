package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ekisa-team/neutts-openai/internal/archive"
	"github.com/ekisa-team/neutts-openai/internal/audio"
	"github.com/ekisa-team/neutts-openai/internal/backend"
	"github.com/ekisa-team/neutts-openai/internal/metrics"
	"github.com/ekisa-team/neutts-openai/internal/model"
	"github.com/ekisa-team/neutts-openai/internal/voice"
)

const archiveTimeout = 30 * time.Second

// Archiver receives a copy of every encoded response.
type Archiver interface {
	Put(ctx context.Context, e archive.Entry) error
}

// Options configures a Speech service.
type Options struct {
	Archiver       Archiver
	Metrics        *metrics.Metrics
	Models         *model.Registry
	Provider       backend.BackendProvider
	DefaultVoice   string
	MaxConcurrency int
}

// SpeechRequest is one synthesis request.
type SpeechRequest struct {
	Input  string
	Voice  string
	Format string
	Speed  float64
}

// Timing describes one synthesis run.
type Timing struct {
	LatencyMS       float64 `json:"latency_ms"`
	SampleRate      int     `json:"sample_rate"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// SpeechResult is an encoded response.
type SpeechResult struct {
	ID     string
	Voice  string
	Format audio.Format
	Audio  []byte
	Timing Timing
}

// ContentType returns the MIME type of the audio.
func (r *SpeechResult) ContentType() string {
	return r.Format.ContentType()
}

// AudioStream is a response whose bytes arrive over time. Chunks is closed
// after the final chunk; a chunk with Error set ends the stream early.
type AudioStream struct {
	Chunks <-chan backend.StreamChunk
	ID     string
	Voice  string
	Format audio.Format
}

// Speech orchestrates voice lookup, inference, encoding and archiving.
type Speech struct {
	backends     *backend.Registry
	voices       *voice.Registry
	encoder      *audio.Encoder
	sem          *semaphore.Weighted
	opts         Options
	readiness    readiness
	archives     sync.WaitGroup
	defaultVoice string
	mu           sync.RWMutex
}

// NewSpeech creates the service in the loading state.
func NewSpeech(backends *backend.Registry, voices *voice.Registry, encoder *audio.Encoder, opts Options) *Speech {
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}

	s := &Speech{
		backends:     backends,
		voices:       voices,
		encoder:      encoder,
		sem:          semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		opts:         opts,
		defaultVoice: opts.DefaultVoice,
	}
	s.readiness.set(StateLoading, nil)

	return s
}

// Voices returns the voice registry.
func (s *Speech) Voices() *voice.Registry {
	return s.voices
}

// SetDefaultVoice changes the voice used when a request names none.
func (s *Speech) SetDefaultVoice(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.defaultVoice = id
}

// DefaultVoice returns the voice used when a request names none.
func (s *Speech) DefaultVoice() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.defaultVoice
}

// MarkReady switches the service to ready.
func (s *Speech) MarkReady() {
	s.readiness.set(StateReady, nil)
	s.opts.Metrics.SetReady(true)
	slog.Info("Speech service ready", "voices", s.voices.Len())
}

// MarkFailed records a startup failure.
func (s *Speech) MarkFailed(err error) {
	s.readiness.set(StateFailed, err)
	s.opts.Metrics.SetReady(false)
	slog.Error("Speech service failed to start", "error", err)
}

// Ready reports whether requests can be served.
func (s *Speech) Ready() bool {
	state, _ := s.readiness.get()
	return state == StateReady
}

// Health returns the readiness report.
func (s *Speech) Health() Health {
	state, err := s.readiness.get()

	h := Health{
		State:          state,
		Status:         string(state),
		TTSInitialized: state == StateReady,
		Voices:         s.voices.IDs(),
	}
	if h.Voices == nil {
		h.Voices = []string{}
	}
	if state == StateReady {
		h.Status = "healthy"
	}
	if err != nil {
		h.Error = err.Error()
	}
	if s.opts.Models != nil {
		h.Models = s.opts.Models.Snapshots()
	}

	return h
}

// Reload rescans the voice directories.
func (s *Speech) Reload(ctx context.Context) ([]string, error) {
	if !s.Ready() {
		return nil, ErrNotReady
	}
	return s.voices.Reload(ctx)
}

// prepared is a validated request.
type prepared struct {
	voice  *voice.Voice
	text   string
	format audio.Format
	speed  float64
}

func (s *Speech) prepare(ctx context.Context, req SpeechRequest) (*prepared, error) {
	if !s.Ready() {
		return nil, ErrNotReady
	}

	text := strings.TrimSpace(req.Input)
	if text == "" {
		return nil, ErrEmptyInput
	}

	format, err := audio.ParseFormat(req.Format)
	if err != nil {
		return nil, err
	}

	speed := req.Speed
	if speed == 0 {
		speed = 1
	}
	if err := audio.ValidateSpeed(speed); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Voice)
	if name == "" {
		name = s.DefaultVoice()
	}

	v, err := s.voices.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	return &prepared{voice: v, text: text, format: format, speed: speed}, nil
}

// Speech synthesizes and encodes a complete response.
func (s *Speech) Speech(ctx context.Context, req SpeechRequest) (*SpeechResult, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	res, err := s.speech(ctx, p)
	if err != nil {
		s.opts.Metrics.ObserveSynthesis(string(p.format), "error")
		return nil, err
	}

	s.opts.Metrics.ObserveSynthesis(string(p.format), "ok")
	return res, nil
}

func (s *Speech) speech(ctx context.Context, p *prepared) (*SpeechResult, error) {
	start := time.Now()

	pcm, rate, err := s.infer(ctx, p.text, p.voice)
	if err != nil {
		return nil, err
	}

	encodeStart := time.Now()
	encoded, err := s.encoder.Encode(ctx, pcm, rate, p.format, p.speed)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", p.format, err)
	}
	s.opts.Metrics.ObserveEncode(string(p.format), time.Since(encodeStart))

	res := &SpeechResult{
		ID:     uuid.NewString(),
		Voice:  p.voice.ID,
		Format: p.format,
		Audio:  encoded,
		Timing: Timing{
			LatencyMS:       float64(time.Since(start).Microseconds()) / 1000,
			SampleRate:      rate,
			DurationSeconds: audio.Duration(len(pcm), rate) / p.speed,
		},
	}

	slog.Info("Speech synthesized",
		"id", res.ID,
		"voice", res.Voice,
		"format", res.Format,
		"chars", len(p.text),
		"latency_ms", res.Timing.LatencyMS,
		"duration_seconds", res.Timing.DurationSeconds)

	s.archive(res)

	return res, nil
}

// SpeechStream returns PCM as it is produced when the backend can stream
// and the output needs no transcoding. Otherwise the complete response is
// delivered as a single chunk.
func (s *Speech) SpeechStream(ctx context.Context, req SpeechRequest) (*AudioStream, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	sb, ok := s.backends.GetStreaming(s.opts.Provider)
	if !ok || !s.streamable(p, sb) {
		res, err := s.speech(ctx, p)
		if err != nil {
			s.opts.Metrics.ObserveSynthesis(string(p.format), "error")
			return nil, err
		}
		s.opts.Metrics.ObserveSynthesis(string(p.format), "ok")

		return &AudioStream{
			ID:     res.ID,
			Voice:  res.Voice,
			Format: res.Format,
			Chunks: oneChunk(res.Audio),
		}, nil
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	src, err := sb.InferStream(ctx, s.request(p.text, p.voice))
	if err != nil {
		s.release()
		s.opts.Metrics.ObserveSynthesis(string(p.format), "error")
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	stream := &AudioStream{
		ID:     uuid.NewString(),
		Voice:  p.voice.ID,
		Format: p.format,
	}

	out := make(chan backend.StreamChunk, 8)
	stream.Chunks = out

	go s.forward(ctx, p, sb.SampleRate(), src, out)

	return stream, nil
}

func (s *Speech) streamable(p *prepared, sb backend.StreamingBackend) bool {
	return p.format.Raw() && s.encoder.InProcess(p.format, sb.SampleRate(), p.speed)
}

func (s *Speech) forward(ctx context.Context, p *prepared, rate int, src <-chan backend.StreamChunk, out chan<- backend.StreamChunk) {
	defer close(out)
	defer s.release()

	start := time.Now()
	var total int
	outcome := "ok"
	defer func() {
		s.opts.Metrics.ObserveSynthesis(string(p.format), outcome)
		s.opts.Metrics.ObserveInference(time.Since(start), audio.Duration(total, rate))
	}()

	send := func(c backend.StreamChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if p.format == audio.FormatWAV {
		if !send(backend.StreamChunk{Data: audio.WAVStreamHeader(rate)}) {
			outcome = "cancelled"
			return
		}
	}

	for {
		var (
			chunk backend.StreamChunk
			ok    bool
		)
		select {
		case chunk, ok = <-src:
		case <-ctx.Done():
			outcome = "cancelled"
			return
		}
		if !ok {
			break
		}

		if chunk.Error != nil {
			outcome = "error"
			slog.Error("Streaming synthesis failed", "voice", p.voice.ID, "error", chunk.Error)
			send(backend.StreamChunk{Error: chunk.Error, Done: true})
			return
		}

		if len(chunk.Data) > 0 {
			if total == 0 {
				slog.Debug("First audio chunk", "voice", p.voice.ID, "latency", time.Since(start))
			}
			total += len(chunk.Data)
			if !send(backend.StreamChunk{Data: chunk.Data}) {
				outcome = "cancelled"
				return
			}
		}
	}

	send(backend.StreamChunk{Done: true})
}

// Synthesize speaks text with the default voice and returns a WAV file.
// Ad-hoc reference audio is not supported.
func (s *Speech) Synthesize(ctx context.Context, text, refAudio string) ([]byte, Timing, error) {
	if strings.TrimSpace(refAudio) != "" {
		return nil, Timing{}, ErrReferenceAudioUnsupported
	}

	res, err := s.Speech(ctx, SpeechRequest{
		Input:  text,
		Format: string(audio.FormatWAV),
		Speed:  1,
	})
	if err != nil {
		return nil, Timing{}, err
	}

	return res.Audio, res.Timing, nil
}

// infer runs the backend under the concurrency limit and returns PCM.
func (s *Speech) infer(ctx context.Context, text string, v *voice.Voice) ([]byte, int, error) {
	b, ok := s.backends.Get(s.opts.Provider)
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrBackendUnavailable, s.opts.Provider)
	}

	if err := s.acquire(ctx); err != nil {
		return nil, 0, err
	}
	defer s.release()

	start := time.Now()

	resp, err := b.Infer(ctx, s.request(text, v))
	if err != nil {
		return nil, 0, fmt.Errorf("inference failed: %w", err)
	}

	pcm, err := io.ReadAll(resp.Output)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read backend output: %w", err)
	}

	rate := resp.SampleRate
	if rate == 0 {
		rate = b.SampleRate()
	}

	s.opts.Metrics.ObserveInference(time.Since(start), audio.Duration(len(pcm), rate))

	return pcm, rate, nil
}

func (s *Speech) request(text string, v *voice.Voice) *backend.Request {
	return &backend.Request{
		Input: strings.NewReader(text),
		Reference: &backend.Reference{
			AudioPath: v.AudioPath,
			Text:      v.Text,
			Codes:     v.Codes,
		},
	}
}

func (s *Speech) acquire(ctx context.Context) error {
	s.opts.Metrics.InferenceQueued()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.opts.Metrics.InferenceAbandoned()
		return fmt.Errorf("%w: %w", ErrQueueTimeout, err)
	}
	s.opts.Metrics.InferenceStarted()
	return nil
}

func (s *Speech) release() {
	s.sem.Release(1)
	s.opts.Metrics.InferenceFinished()
}

func (s *Speech) archive(res *SpeechResult) {
	if s.opts.Archiver == nil {
		return
	}

	s.archives.Add(1)
	go func() {
		defer s.archives.Done()

		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()

		err := s.opts.Archiver.Put(ctx, archive.Entry{
			ID:          res.ID,
			Voice:       res.Voice,
			Format:      string(res.Format),
			ContentType: res.ContentType(),
			Data:        res.Audio,
			LatencyMS:   res.Timing.LatencyMS,
			CreatedAt:   time.Now(),
		})
		if err != nil {
			s.opts.Metrics.ArchiveFailed()
			slog.Error("Failed to archive speech", "id", res.ID, "error", err)
		}
	}()
}

// Close waits for pending archive uploads.
func (s *Speech) Close() {
	s.archives.Wait()
}

func oneChunk(data []byte) <-chan backend.StreamChunk {
	ch := make(chan backend.StreamChunk, 2)
	ch <- backend.StreamChunk{Data: data}
	ch <- backend.StreamChunk{Done: true}
	close(ch)
	return ch
}

// IsClientError reports whether err is caused by the request rather than
// the service.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyInput) ||
		errors.Is(err, ErrUnsupportedFormat) ||
		errors.Is(err, ErrInvalidSpeed) ||
		errors.Is(err, ErrReferenceAudioUnsupported)
}
