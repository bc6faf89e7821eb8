package mapsafe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	params := map[string]any{
		"speaker_id":   float64(3),
		"length_scale": 1,
		"language":     "de",
		"stream":       true,
		"timeout":      "90s",
		"warmup":       2.5,
		"nothing":      nil,
		"tags":         []string{"a"},
	}

	assert.Equal(t, 3, Get(params, "speaker_id", 0))
	assert.Equal(t, int32(3), Get(params, "speaker_id", int32(0)))
	assert.InDelta(t, 1.0, Get(params, "length_scale", 0.0), 1e-9)
	assert.Equal(t, "de", Get(params, "language", "en"))
	assert.True(t, Get(params, "stream", false))
	assert.Equal(t, 90*time.Second, Get(params, "timeout", time.Duration(0)))
	assert.Equal(t, 2500*time.Millisecond, Get(params, "warmup", time.Duration(0)))
	assert.Equal(t, []string{"a"}, Get[[]string](params, "tags", nil))

	assert.Equal(t, "fallback", Get(params, "speaker_id", "fallback"))
	assert.Equal(t, 7, Get(params, "missing", 7))
	assert.Equal(t, 7, Get(params, "nothing", 7))
	assert.Equal(t, 1, Get[int](nil, "speaker_id", 1))
}

func TestHas(t *testing.T) {
	params := map[string]any{"a": 1, "b": nil}

	assert.True(t, Has(params, "a"))
	assert.False(t, Has(params, "b"))
	assert.False(t, Has(params, "c"))
}
