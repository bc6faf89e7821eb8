package audio

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ekisa-team/neutts-openai/internal/backend"
)

const (
	MinSpeed = 0.25
	MaxSpeed = 4.0

	atempoMin = 0.5
	atempoMax = 2.0
)

// Encoder turns backend PCM into response bytes. WAV and PCM output that
// needs no filtering is framed in-process; everything else goes through
// ffmpeg.
type Encoder struct {
	ffmpeg  *backend.Executor
	bitrate string
	pcmRate int
}

// NewEncoder creates an encoder. A nil executor limits the encoder to
// unfiltered WAV and PCM.
func NewEncoder(ffmpeg *backend.Executor, bitrate string, pcmRate int) *Encoder {
	return &Encoder{
		ffmpeg:  ffmpeg,
		bitrate: bitrate,
		pcmRate: pcmRate,
	}
}

// PCMRate returns the sample rate of pcm output.
func (e *Encoder) PCMRate() int {
	return e.pcmRate
}

// ValidateSpeed checks that speed is within [MinSpeed, MaxSpeed].
func ValidateSpeed(speed float64) error {
	if math.IsNaN(speed) || speed < MinSpeed || speed > MaxSpeed {
		return fmt.Errorf("%w: %g (allowed %g to %g)", ErrInvalidSpeed, speed, MinSpeed, MaxSpeed)
	}
	return nil
}

// InProcess reports whether Encode can skip ffmpeg.
func (e *Encoder) InProcess(format Format, inRate int, speed float64) bool {
	if speed != 1 {
		return false
	}
	switch format {
	case FormatWAV:
		return true
	case FormatPCM:
		return inRate == e.pcmRate
	default:
		return false
	}
}

// Encode converts s16le mono PCM at inRate into format, applying speed.
func (e *Encoder) Encode(ctx context.Context, pcm []byte, inRate int, format Format, speed float64) ([]byte, error) {
	if err := ValidateSpeed(speed); err != nil {
		return nil, err
	}

	if e.InProcess(format, inRate, speed) {
		if format == FormatWAV {
			return WAV(pcm, inRate), nil
		}
		return pcm, nil
	}

	if e.ffmpeg == nil {
		return nil, fmt.Errorf("%w: cannot produce %s at speed %g", ErrEncoderUnavailable, format, speed)
	}

	// ffmpeg cannot seek back into a pipe to fix up WAV sizes, so it
	// produces raw samples and the header is added here.
	target := format
	if format == FormatWAV {
		target = FormatPCM
	}

	stdout, stderr, err := e.ffmpeg.Execute(ctx, e.Args(inRate, target, speed, format == FormatWAV), bytes.NewReader(pcm))
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(string(stderr)))
	}

	if format == FormatWAV {
		return WAV(stdout, inRate), nil
	}

	return stdout, nil
}

// Args builds the ffmpeg command line reading PCM from stdin and writing
// format to stdout. keepRate keeps raw output at the input rate.
func (e *Encoder) Args(inRate int, format Format, speed float64, keepRate bool) []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le", "-ar", strconv.Itoa(inRate), "-ac", "1",
		"-i", "pipe:0",
	}

	if speed != 1 {
		args = append(args, "-filter:a", AtempoFilter(speed))
	}

	switch format {
	case FormatMP3:
		args = append(args, "-c:a", "libmp3lame", "-b:a", e.bitrate, "-f", "mp3")
	case FormatOpus:
		args = append(args, "-c:a", "libopus", "-b:a", e.bitrate, "-ar", "48000", "-f", "ogg")
	case FormatAAC:
		args = append(args, "-c:a", "aac", "-b:a", e.bitrate, "-f", "adts")
	case FormatFLAC:
		args = append(args, "-c:a", "flac", "-f", "flac")
	case FormatWAV, FormatPCM:
		rate := e.pcmRate
		if keepRate {
			rate = inRate
		}
		args = append(args, "-c:a", "pcm_s16le", "-ar", strconv.Itoa(rate), "-f", "s16le")
	}

	return append(args, "pipe:1")
}

// AtempoChain splits speed into atempo factors that each lie within
// [0.5, 2.0] and multiply to speed.
func AtempoChain(speed float64) []float64 {
	var chain []float64

	for speed > atempoMax {
		chain = append(chain, atempoMax)
		speed /= atempoMax
	}
	for speed < atempoMin {
		chain = append(chain, atempoMin)
		speed /= atempoMin
	}

	return append(chain, speed)
}

// AtempoFilter renders AtempoChain as an ffmpeg filter graph.
func AtempoFilter(speed float64) string {
	chain := AtempoChain(speed)

	parts := make([]string, len(chain))
	for i, factor := range chain {
		parts[i] = "atempo=" + strconv.FormatFloat(factor, 'f', -1, 64)
	}

	return strings.Join(parts, ",")
}
