package vad_test

import (
	"errors"
	"testing"

	"github.com/voxgatehq/voxgate/pkg/audio"
	"github.com/voxgatehq/voxgate/pkg/provider/vad"
)

// voicedFrame returns a frame whose samples sit well above every
// aggressiveness threshold.
func voicedFrame() []byte {
	frame := make([]byte, audio.FrameBytes)
	for i := 0; i+1 < len(frame); i += 2 {
		frame[i] = 0xB8 // 3000 little-endian
		frame[i+1] = 0x0B
	}
	return frame
}

func silentFrame() []byte {
	return make([]byte, audio.FrameBytes)
}

func newDetector(t *testing.T) *vad.Detector {
	t.Helper()
	d, err := vad.New(vad.Config{Aggressiveness: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestSpeechStartHysteresis(t *testing.T) {
	t.Parallel()
	d := newDetector(t)

	// Fewer than the start threshold must never flip the state.
	for i := 0; i < vad.DefaultStartFrames-1; i++ {
		changed, err := d.ProcessFrame(voicedFrame())
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if changed {
			t.Fatalf("state flipped after %d voiced frames", i+1)
		}
	}
	if d.SpeechActive() {
		t.Fatal("speech active before reaching the start threshold")
	}

	// Exactly the threshold does.
	changed, err := d.ProcessFrame(voicedFrame())
	if err != nil {
		t.Fatal(err)
	}
	if !changed || !d.SpeechActive() {
		t.Fatalf("changed=%v active=%v, want true/true on frame %d",
			changed, d.SpeechActive(), vad.DefaultStartFrames)
	}
}

func TestSpeechEndHysteresis(t *testing.T) {
	t.Parallel()
	d := newDetector(t)

	for i := 0; i < vad.DefaultStartFrames; i++ {
		if _, err := d.ProcessFrame(voicedFrame()); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < vad.DefaultEndFrames-1; i++ {
		changed, err := d.ProcessFrame(silentFrame())
		if err != nil {
			t.Fatal(err)
		}
		if changed {
			t.Fatalf("state flipped after %d silent frames", i+1)
		}
	}
	changed, err := d.ProcessFrame(silentFrame())
	if err != nil {
		t.Fatal(err)
	}
	if !changed || d.SpeechActive() {
		t.Fatalf("changed=%v active=%v, want true/false after %d silent frames",
			changed, d.SpeechActive(), vad.DefaultEndFrames)
	}
}

func TestSilenceResetsSpeechRun(t *testing.T) {
	t.Parallel()
	d := newDetector(t)

	// Interleaving silence resets the consecutive-speech counter, so
	// speech never starts.
	for i := 0; i < 10; i++ {
		for j := 0; j < vad.DefaultStartFrames-1; j++ {
			if _, err := d.ProcessFrame(voicedFrame()); err != nil {
				t.Fatal(err)
			}
		}
		if _, err := d.ProcessFrame(silentFrame()); err != nil {
			t.Fatal(err)
		}
	}
	if d.SpeechActive() {
		t.Fatal("speech became active despite interleaved silence")
	}
}

func TestFrameSizeRejected(t *testing.T) {
	t.Parallel()
	d := newDetector(t)

	_, err := d.ProcessFrame(make([]byte, audio.FrameBytes-2))
	if !errors.Is(err, audio.ErrFrameSize) {
		t.Fatalf("got %v, want ErrFrameSize", err)
	}
}

func TestClosedDetector(t *testing.T) {
	t.Parallel()
	d := newDetector(t)

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	_, err := d.ProcessFrame(silentFrame())
	if !errors.Is(err, vad.ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	d := newDetector(t)

	for i := 0; i < vad.DefaultStartFrames; i++ {
		if _, err := d.ProcessFrame(voicedFrame()); err != nil {
			t.Fatal(err)
		}
	}
	d.Reset()
	if d.SpeechActive() {
		t.Fatal("speech still active after Reset")
	}
}

func TestAggressivenessRange(t *testing.T) {
	t.Parallel()

	for _, bad := range []int{-1, 4} {
		if _, err := vad.New(vad.Config{Aggressiveness: bad}); err == nil {
			t.Errorf("aggressiveness %d accepted", bad)
		}
	}
}
