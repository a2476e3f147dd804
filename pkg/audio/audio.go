// Package audio provides PCM frame validation and WAV container framing for
// the voice pipeline.
//
// Upstream microphone audio is 16-bit mono PCM at 16 kHz, delivered in fixed
// 30 ms frames. Downstream synthesized audio is 16-bit mono PCM at 24 kHz and
// is wrapped into a RIFF/WAVE container before it leaves over HTTP.
package audio

import (
	"errors"
	"fmt"
)

const (
	// InputSampleRate is the sample rate of client microphone audio in Hz.
	InputSampleRate = 16000

	// OutputSampleRate is the sample rate of synthesized audio in Hz.
	OutputSampleRate = 24000

	// FrameDurationMs is the duration of one VAD frame in milliseconds.
	FrameDurationMs = 30

	// FrameSamples is the number of samples in one VAD frame.
	FrameSamples = 960

	// FrameBytes is the byte length of one VAD frame (16-bit samples).
	FrameBytes = FrameSamples * 2
)

// ErrFrameSize is returned when a PCM frame does not match [FrameBytes].
var ErrFrameSize = errors.New("audio: frame size mismatch")

// ValidateFrame checks that frame is exactly one 30 ms 16 kHz mono frame.
func ValidateFrame(frame []byte) error {
	if len(frame) != FrameBytes {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), FrameBytes)
	}
	return nil
}
