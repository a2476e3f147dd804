// Package mock provides a test double for the vad.Engine interface.
//
// Script the Changes slice with the value ProcessFrame should return for
// each successive call; once the script is exhausted, further calls return
// false.
package mock

import (
	"sync"

	"github.com/voxgatehq/voxgate/pkg/provider/vad"
)

// Engine is a scriptable implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Changes holds the return value of each successive ProcessFrame call.
	Changes []bool

	// Active is returned by SpeechActive.
	Active bool

	// Err, if non-nil, is returned by every ProcessFrame call.
	Err error

	// Frames records every frame passed to ProcessFrame.
	Frames [][]byte

	// ResetCount counts Reset calls.
	ResetCount int

	// Closed reports whether Close was called.
	Closed bool

	next int
}

var _ vad.Engine = (*Engine)(nil)

// ProcessFrame implements vad.Engine.
func (e *Engine) ProcessFrame(frame []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Frames = append(e.Frames, frame)
	if e.Err != nil {
		return false, e.Err
	}
	if e.next < len(e.Changes) {
		changed := e.Changes[e.next]
		e.next++
		if changed {
			e.Active = !e.Active
		}
		return changed, nil
	}
	return false, nil
}

// SpeechActive implements vad.Engine.
func (e *Engine) SpeechActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Active
}

// Reset implements vad.Engine.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ResetCount++
	e.Active = false
	e.next = 0
}

// Close implements vad.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Closed = true
	return nil
}
