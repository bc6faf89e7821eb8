package audio

import (
	"bytes"
	"encoding/binary"
	"io"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16
	channels      = 1

	// streamDataSize marks a WAV whose length is unknown when the header is sent.
	streamDataSize = 0xFFFFFFFF
)

// WriteWAVHeader writes a 44-byte header for 16-bit mono PCM.
func WriteWAVHeader(w io.Writer, sampleRate int, dataSize uint32) error {
	riffSize := uint32(36) + dataSize
	if dataSize == streamDataSize {
		riffSize = streamDataSize
	}

	blockAlign := channels * bitsPerSample / 8

	header := struct {
		Riff          [4]byte
		RiffSize      uint32
		Wave          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		Channels      uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		Riff:          [4]byte{'R', 'I', 'F', 'F'},
		RiffSize:      riffSize,
		Wave:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1, // PCM
		Channels:      channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: bitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      dataSize,
	}

	return binary.Write(w, binary.LittleEndian, header)
}

// WAV wraps s16le mono PCM in a WAV container.
func WAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	_ = WriteWAVHeader(&buf, sampleRate, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// WAVStreamHeader returns a header for a WAV of unknown length.
func WAVStreamHeader(sampleRate int) []byte {
	var buf bytes.Buffer
	_ = WriteWAVHeader(&buf, sampleRate, streamDataSize)
	return buf.Bytes()
}

// Duration returns the length in seconds of s16le mono PCM.
func Duration(pcmBytes, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(pcmBytes/2) / float64(sampleRate)
}
