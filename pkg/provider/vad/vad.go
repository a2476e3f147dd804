// Package vad provides voice activity detection over fixed-size PCM frames.
//
// The detector combines a per-frame energy classifier with a hysteretic state
// machine: speech starts only after a run of consecutive voiced frames and
// ends only after a longer run of silence, so short pauses inside an
// utterance do not toggle the state.
package vad

import (
	"errors"
	"fmt"

	"github.com/voxgatehq/voxgate/pkg/audio"
)

// Engine classifies audio frames and tracks speech state for one stream.
//
// Implementations are not required to be safe for concurrent use; each
// session owns exactly one engine.
type Engine interface {
	// ProcessFrame classifies one frame and advances the state machine.
	// It returns true when the speech-active state flipped on this frame.
	ProcessFrame(frame []byte) (changed bool, err error)

	// SpeechActive reports the current speech state.
	SpeechActive() bool

	// Reset clears all state, returning the engine to initial silence.
	Reset()

	// Close releases the engine. Further calls fail with [ErrClosed].
	Close() error
}

// ErrClosed is returned by engine methods after Close.
var ErrClosed = errors.New("vad: engine is closed")

const (
	// DefaultStartFrames is the number of consecutive voiced frames
	// required to enter the speech state (≈150 ms at 30 ms frames).
	DefaultStartFrames = 5

	// DefaultEndFrames is the number of consecutive silent frames required
	// to leave the speech state (≈600 ms at 30 ms frames).
	DefaultEndFrames = 20
)

// energyThresholds maps aggressiveness (0..3) to the mean absolute sample
// amplitude above which a frame counts as voiced. Higher aggressiveness
// demands louder input before classifying speech.
var energyThresholds = [4]int{150, 250, 400, 600}

// Config tunes a [Detector].
type Config struct {
	// Aggressiveness selects the classifier strictness, 0 (permissive)
	// through 3 (strict).
	Aggressiveness int

	// StartFrames overrides [DefaultStartFrames] when positive.
	StartFrames int

	// EndFrames overrides [DefaultEndFrames] when positive.
	EndFrames int
}

// Detector implements [Engine] with an energy classifier and hysteresis.
type Detector struct {
	threshold   int
	startFrames int
	endFrames   int

	speechActive      bool
	consecutiveSpeech int
	consecutiveSilent int
	closed            bool
}

var _ Engine = (*Detector)(nil)

// New creates a Detector from cfg.
func New(cfg Config) (*Detector, error) {
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > 3 {
		return nil, fmt.Errorf("vad: aggressiveness %d out of range [0, 3]", cfg.Aggressiveness)
	}
	d := &Detector{
		threshold:   energyThresholds[cfg.Aggressiveness],
		startFrames: cfg.StartFrames,
		endFrames:   cfg.EndFrames,
	}
	if d.startFrames <= 0 {
		d.startFrames = DefaultStartFrames
	}
	if d.endFrames <= 0 {
		d.endFrames = DefaultEndFrames
	}
	return d, nil
}

// ProcessFrame implements [Engine].
func (d *Detector) ProcessFrame(frame []byte) (bool, error) {
	if d.closed {
		return false, ErrClosed
	}
	if err := audio.ValidateFrame(frame); err != nil {
		return false, err
	}

	if d.classify(frame) {
		d.consecutiveSilent = 0
		d.consecutiveSpeech++
		if !d.speechActive && d.consecutiveSpeech >= d.startFrames {
			d.speechActive = true
			return true, nil
		}
		return false, nil
	}

	d.consecutiveSpeech = 0
	d.consecutiveSilent++
	if d.speechActive && d.consecutiveSilent >= d.endFrames {
		d.speechActive = false
		return true, nil
	}
	return false, nil
}

// SpeechActive implements [Engine].
func (d *Detector) SpeechActive() bool { return d.speechActive }

// Reset implements [Engine].
func (d *Detector) Reset() {
	if d.closed {
		return
	}
	d.speechActive = false
	d.consecutiveSpeech = 0
	d.consecutiveSilent = 0
}

// Close implements [Engine].
func (d *Detector) Close() error {
	d.closed = true
	return nil
}

// classify reports whether the frame's mean absolute amplitude exceeds the
// configured threshold.
func (d *Detector) classify(frame []byte) bool {
	var sum int64
	for i := 0; i+1 < len(frame); i += 2 {
		s := int64(int16(uint16(frame[i]) | uint16(frame[i+1])<<8))
		if s < 0 {
			s = -s
		}
		sum += s
	}
	mean := sum / int64(len(frame)/2)
	return mean > int64(d.threshold)
}
