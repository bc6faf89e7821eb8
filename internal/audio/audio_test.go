package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/neutts-openai/internal/backend"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in          string
		want        Format
		contentType string
	}{
		{"", FormatMP3, "audio/mpeg"},
		{"mp3", FormatMP3, "audio/mpeg"},
		{"OPUS", FormatOpus, "audio/opus"},
		{" aac ", FormatAAC, "audio/aac"},
		{"flac", FormatFLAC, "audio/flac"},
		{"wav", FormatWAV, "audio/wav"},
		{"pcm", FormatPCM, "audio/pcm"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.contentType, got.ContentType())
		})
	}

	_, err := ParseFormat("ogg")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestWAVHeaderLayout(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0}
	wav := WAV(pcm, 24000)

	require.Len(t, wav, 44+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "fmt ", string(wav[12:16]))
	assert.Equal(t, uint32(16), binary.LittleEndian.Uint32(wav[16:20]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[20:22]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(wav[22:24]))
	assert.Equal(t, uint32(24000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(48000), binary.LittleEndian.Uint32(wav[28:32]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(wav[32:34]))
	assert.Equal(t, uint16(16), binary.LittleEndian.Uint16(wav[34:36]))
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, pcm, wav[44:])
}

func TestWAVStreamHeader(t *testing.T) {
	h := WAVStreamHeader(24000)

	require.Len(t, h, 44)
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(h[4:8]))
	assert.Equal(t, uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(h[40:44]))
}

func TestDuration(t *testing.T) {
	assert.InDelta(t, 1.0, Duration(48000, 24000), 1e-9)
	assert.Zero(t, Duration(100, 0))
}

func TestAtempoChain(t *testing.T) {
	for _, speed := range []float64{0.25, 0.3, 0.5, 0.75, 1, 1.5, 2, 3, 4} {
		chain := AtempoChain(speed)

		product := 1.0
		for _, f := range chain {
			assert.GreaterOrEqual(t, f, atempoMin, "speed %g", speed)
			assert.LessOrEqual(t, f, atempoMax, "speed %g", speed)
			product *= f
		}
		assert.InDelta(t, speed, product, 1e-9)
	}

	assert.Equal(t, "atempo=2,atempo=2", AtempoFilter(4))
	assert.Equal(t, "atempo=0.5,atempo=0.5", AtempoFilter(0.25))
	assert.Equal(t, "atempo=1.5", AtempoFilter(1.5))
}

func TestValidateSpeed(t *testing.T) {
	assert.NoError(t, ValidateSpeed(0.25))
	assert.NoError(t, ValidateSpeed(4))
	assert.ErrorIs(t, ValidateSpeed(0.2), ErrInvalidSpeed)
	assert.ErrorIs(t, ValidateSpeed(math.Inf(1)), ErrInvalidSpeed)
}

type recordingRunner struct {
	args []string
	in   []byte
	out  []byte
	err  error
}

func (r *recordingRunner) Run(_ context.Context, _ string, args []string, stdin io.Reader) ([]byte, []byte, error) {
	r.args = args
	r.in, _ = io.ReadAll(stdin)
	if r.err != nil {
		return nil, []byte("Unknown encoder 'libmp3lame'"), r.err
	}
	return r.out, nil, nil
}

func (r *recordingRunner) Start(context.Context, string, []string, io.Reader) (io.ReadCloser, io.ReadCloser, func() error, error) {
	return nil, nil, nil, errors.New("not used")
}

func newEncoder(r *recordingRunner) *Encoder {
	return NewEncoder(backend.NewExecutorWithRunner("ffmpeg", time.Second, r), "128k", 24000)
}

func TestEncoder_InProcess(t *testing.T) {
	r := &recordingRunner{}
	e := newEncoder(r)
	pcm := []byte{1, 0, 2, 0}

	wav, err := e.Encode(context.Background(), pcm, 24000, FormatWAV, 1)
	require.NoError(t, err)
	assert.Equal(t, WAV(pcm, 24000), wav)

	raw, err := e.Encode(context.Background(), pcm, 24000, FormatPCM, 1)
	require.NoError(t, err)
	assert.Equal(t, pcm, raw)

	assert.Nil(t, r.args, "ffmpeg must not run")
}

func TestEncoder_MP3(t *testing.T) {
	r := &recordingRunner{out: []byte("ID3")}
	e := newEncoder(r)

	out, err := e.Encode(context.Background(), []byte{1, 0}, 24000, FormatMP3, 1)
	require.NoError(t, err)

	assert.Equal(t, []byte("ID3"), out)
	assert.Equal(t, []byte{1, 0}, r.in)
	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le", "-ar", "24000", "-ac", "1",
		"-i", "pipe:0",
		"-c:a", "libmp3lame", "-b:a", "128k", "-f", "mp3",
		"pipe:1",
	}, r.args)
}

func TestEncoder_WAVWithSpeed(t *testing.T) {
	r := &recordingRunner{out: []byte{9, 0}}
	e := newEncoder(r)

	out, err := e.Encode(context.Background(), []byte{1, 0, 2, 0}, 22050, FormatWAV, 2)
	require.NoError(t, err)

	assert.Equal(t, WAV([]byte{9, 0}, 22050), out)
	assert.Contains(t, r.args, "atempo=2")
	assert.Equal(t, []string{"-c:a", "pcm_s16le", "-ar", "22050", "-f", "s16le", "pipe:1"}, r.args[len(r.args)-7:])
}

func TestEncoder_PCMResamples(t *testing.T) {
	r := &recordingRunner{out: []byte{0, 0}}
	e := newEncoder(r)

	_, err := e.Encode(context.Background(), []byte{1, 0}, 22050, FormatPCM, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"-c:a", "pcm_s16le", "-ar", "24000", "-f", "s16le", "pipe:1"}, r.args[len(r.args)-7:])
}

func TestEncoder_Errors(t *testing.T) {
	e := newEncoder(&recordingRunner{err: errors.New("exit status 1")})

	_, err := e.Encode(context.Background(), []byte{1, 0}, 24000, FormatMP3, 1)
	assert.ErrorContains(t, err, "libmp3lame")

	_, err = e.Encode(context.Background(), []byte{1, 0}, 24000, FormatMP3, 8)
	assert.ErrorIs(t, err, ErrInvalidSpeed)

	noFFmpeg := NewEncoder(nil, "128k", 24000)
	_, err = noFFmpeg.Encode(context.Background(), []byte{1, 0}, 24000, FormatFLAC, 1)
	assert.ErrorIs(t, err, ErrEncoderUnavailable)

	out, err := noFFmpeg.Encode(context.Background(), bytes.Repeat([]byte{1}, 4), 24000, FormatWAV, 1)
	require.NoError(t, err)
	assert.Len(t, out, 48)
}
