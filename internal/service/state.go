package service

import (
	"sync"

	"github.com/ekisa-team/neutts-openai/internal/model"
)

// State is the readiness of the service.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Health is the readiness report behind /health.
type Health struct {
	Error          string           `json:"error,omitempty"`
	Status         string           `json:"status"`
	State          State            `json:"-"`
	Voices         []string         `json:"available_voices"`
	Models         []model.Snapshot `json:"models,omitempty"`
	TTSInitialized bool             `json:"tts_initialized"`
}

type readiness struct {
	err   error
	state State
	mu    sync.RWMutex
}

func (r *readiness) set(state State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state, r.err = state, err
}

func (r *readiness) get() (State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.state, r.err
}
