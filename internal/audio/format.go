// Package audio frames and encodes the PCM produced by the backends into the
// response formats of the speech endpoint.
package audio

import (
	"errors"
	"fmt"
	"strings"
)

// Format is an output container/codec.
type Format string

const (
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
	FormatAAC  Format = "aac"
	FormatFLAC Format = "flac"
	FormatWAV  Format = "wav"
	FormatPCM  Format = "pcm"
)

// DefaultFormat is used when a request names none.
const DefaultFormat = FormatMP3

var (
	ErrUnsupportedFormat  = errors.New("unsupported response format")
	ErrInvalidSpeed       = errors.New("speed out of range")
	ErrEncoderUnavailable = errors.New("ffmpeg is not available")
)

var contentTypes = map[Format]string{
	FormatMP3:  "audio/mpeg",
	FormatOpus: "audio/opus",
	FormatAAC:  "audio/aac",
	FormatFLAC: "audio/flac",
	FormatWAV:  "audio/wav",
	FormatPCM:  "audio/pcm",
}

// Formats returns every supported format.
func Formats() []Format {
	return []Format{FormatMP3, FormatOpus, FormatAAC, FormatFLAC, FormatWAV, FormatPCM}
}

// ParseFormat parses a response_format value. The empty string selects
// DefaultFormat.
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultFormat, nil
	}

	f := Format(s)
	if _, ok := contentTypes[f]; !ok {
		return "", fmt.Errorf("%w: %q (supported: mp3, opus, aac, flac, wav, pcm)", ErrUnsupportedFormat, s)
	}

	return f, nil
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	return contentTypes[f]
}

// Extension returns the file extension, without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Raw reports whether the format is plain PCM, with or without a WAV header.
func (f Format) Raw() bool {
	return f == FormatWAV || f == FormatPCM
}
