package audio

import (
	"bytes"
	"encoding/binary"
)

// wavHeaderSize is the byte length of the canonical PCM WAV header.
const wavHeaderSize = 44

// wavHeader mirrors the canonical 44-byte RIFF/WAVE header for uncompressed
// PCM. All multi-byte fields are little-endian on the wire.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// WAVHeader returns the 44-byte RIFF/WAVE header for 16-bit mono PCM at the
// given sample rate. dataSize is the length of the PCM payload that follows;
// pass 0 when the total length is unknown (streaming responses), which leaves
// the chunk-size placeholders at their minimal values.
func WAVHeader(sampleRate, dataSize int) []byte {
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1, // PCM
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataSize),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize))
	// Write cannot fail on a bytes.Buffer with fixed-size fields.
	_ = binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

// PCMToWAV wraps raw 16-bit mono PCM into a complete WAV file.
func PCMToWAV(pcm []byte, sampleRate int) []byte {
	out := make([]byte, 0, wavHeaderSize+len(pcm))
	out = append(out, WAVHeader(sampleRate, len(pcm))...)
	return append(out, pcm...)
}
