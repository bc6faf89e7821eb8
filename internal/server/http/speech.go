package http

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/neutts-openai/internal/audio"
	"github.com/ekisa-team/neutts-openai/internal/service"
)

type (
	SpeechRequestDTO struct {
		_ struct{} `json:"-" additionalProperties:"true"`

		Model          string  `json:"model,omitempty"           doc:"Accepted for compatibility and ignored"`
		Input          string  `json:"input"                     minLength:"1" maxLength:"4096" doc:"Text to speak"`
		Voice          string  `json:"voice,omitempty"           doc:"Voice ID or alias"`
		Instructions   string  `json:"instructions,omitempty"    doc:"Accepted for compatibility and ignored"`
		ResponseFormat string  `json:"response_format,omitempty" doc:"mp3, opus, aac, flac, wav or pcm"`
		Speed          float64 `json:"speed,omitempty"           doc:"Playback speed between 0.25 and 4.0"`
		Stream         bool    `json:"stream,omitempty"          doc:"Send audio as it is generated"`
	}

	SynthesizeRequestDTO struct {
		Text     string `json:"text"                minLength:"1" maxLength:"4096"`
		RefAudio string `json:"ref_audio,omitempty" doc:"Not supported; register a voice instead"`
		RefText  string `json:"ref_text,omitempty"`
	}

	SynthesizeResponseDTO struct {
		Audio      string         `json:"audio"       doc:"Base64 encoded WAV file"`
		Format     string         `json:"format"`
		SampleRate int            `json:"sample_rate"`
		Timing     service.Timing `json:"timing"`
	}
)

type (
	SpeechInput struct {
		Body SpeechRequestDTO
	}

	SynthesizeInput struct {
		Body SynthesizeRequestDTO
	}

	SynthesizeOutput struct {
		Body SynthesizeResponseDTO
	}
)

// SpeechHandler handles the OpenAI compatible speech endpoints.
type SpeechHandler struct {
	service *service.Speech
	timeout time.Duration
}

// NewSpeechHandler registers the speech operations on api. timeout bounds
// non-streaming requests; zero disables it.
func NewSpeechHandler(api huma.API, service *service.Speech, timeout time.Duration) *SpeechHandler {
	h := &SpeechHandler{service: service, timeout: timeout}

	huma.Register(api, huma.Operation{
		OperationID: "create-speech",
		Method:      http.MethodPost,
		Path:        "/v1/audio/speech",
		Summary:     "Generate audio from text",
		Tags:        []string{"audio"},
	}, h.handleSpeech)

	huma.Register(api, huma.Operation{
		OperationID: "synthesize",
		Method:      http.MethodPost,
		Path:        "/synthesize",
		Summary:     "Generate a base64 WAV with the default voice",
		Tags:        []string{"audio"},
	}, h.handleSynthesize)

	return h
}

func (h *SpeechHandler) request(in *SpeechInput) service.SpeechRequest {
	return service.SpeechRequest{
		Input:  in.Body.Input,
		Voice:  in.Body.Voice,
		Format: in.Body.ResponseFormat,
		Speed:  in.Body.Speed,
	}
}

func (h *SpeechHandler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, h.timeout)
}

// handleSpeech handles the create-speech operation.
func (h *SpeechHandler) handleSpeech(ctx context.Context, input *SpeechInput) (*huma.StreamResponse, error) {
	if input.Body.Stream {
		return h.handleSpeechStream(ctx, input)
	}

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	res, err := h.service.Speech(ctx, h.request(input))
	if err != nil {
		return nil, toHTTPError(err)
	}

	return &huma.StreamResponse{
		Body: func(hctx huma.Context) {
			setAudioHeaders(hctx, res.Format, res.ID, res.Timing.LatencyMS)
			hctx.SetHeader("Content-Length", strconv.Itoa(len(res.Audio)))
			hctx.SetStatus(http.StatusOK)

			if _, err := hctx.BodyWriter().Write(res.Audio); err != nil {
				slog.Warn("Failed to write speech response", "id", res.ID, "error", err)
			}
		},
	}, nil
}

// handleSpeechStream waits for the first chunk so that failures before any
// audio is produced still get a proper status code.
func (h *SpeechHandler) handleSpeechStream(ctx context.Context, input *SpeechInput) (*huma.StreamResponse, error) {
	start := time.Now()

	stream, err := h.service.SpeechStream(ctx, h.request(input))
	if err != nil {
		return nil, toHTTPError(err)
	}

	first, ok := <-stream.Chunks
	if ok && first.Error != nil {
		return nil, toHTTPError(first.Error)
	}
	if !ok {
		return nil, toHTTPError(ctx.Err())
	}

	latency := float64(time.Since(start).Microseconds()) / 1000

	return &huma.StreamResponse{
		Body: func(hctx huma.Context) {
			setAudioHeaders(hctx, stream.Format, stream.ID, latency)
			hctx.SetStatus(http.StatusOK)

			w := hctx.BodyWriter()
			flusher, _ := w.(http.Flusher)

			write := func(data []byte) bool {
				if len(data) == 0 {
					return true
				}
				if _, err := w.Write(data); err != nil {
					slog.Warn("Client went away during streaming", "id", stream.ID, "error", err)
					return false
				}
				if flusher != nil {
					flusher.Flush()
				}
				return true
			}

			if !write(first.Data) {
				return
			}
			for chunk := range stream.Chunks {
				if chunk.Error != nil {
					// Headers are gone; cutting the body short is all that is left.
					return
				}
				if !write(chunk.Data) {
					return
				}
			}
		},
	}, nil
}

// handleSynthesize handles the synthesize operation.
func (h *SpeechHandler) handleSynthesize(ctx context.Context, input *SynthesizeInput) (*SynthesizeOutput, error) {
	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	wav, timing, err := h.service.Synthesize(ctx, input.Body.Text, input.Body.RefAudio)
	if err != nil {
		return nil, toHTTPError(err)
	}

	return &SynthesizeOutput{
		Body: SynthesizeResponseDTO{
			Audio:      base64.StdEncoding.EncodeToString(wav),
			Format:     string(audio.FormatWAV),
			SampleRate: timing.SampleRate,
			Timing:     timing,
		},
	}, nil
}

func setAudioHeaders(hctx huma.Context, format audio.Format, id string, latencyMS float64) {
	hctx.SetHeader("Content-Type", format.ContentType())
	hctx.SetHeader("Content-Disposition", "attachment; filename=speech."+format.Extension())
	hctx.SetHeader("X-Audio-Latency", fmt.Sprintf("%.2fms", latencyMS))
	hctx.SetHeader("X-Audio-Id", id)
}
