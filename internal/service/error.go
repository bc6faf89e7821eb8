package service

import (
	"errors"

	"github.com/ekisa-team/neutts-openai/internal/audio"
	"github.com/ekisa-team/neutts-openai/internal/voice"
)

// Error definitions for the service package.
var (
	ErrNotReady                  = errors.New("TTS model is not loaded yet")
	ErrEmptyInput                = errors.New("input text is empty")
	ErrQueueTimeout              = errors.New("request cancelled while waiting for the model")
	ErrBackendUnavailable        = errors.New("configured backend is not registered")
	ErrReferenceAudioUnsupported = errors.New("custom reference audio is not supported")

	ErrVoiceNotFound     = voice.ErrNotFound
	ErrUnsupportedFormat = audio.ErrUnsupportedFormat
	ErrInvalidSpeed      = audio.ErrInvalidSpeed
)
