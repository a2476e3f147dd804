// Package mock provides a test double for the asr.Driver interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxgatehq/voxgate/pkg/provider/asr"
)

// Driver is a scriptable mock implementation of asr.Driver. Script fields are
// consumed as methods are called; record fields accumulate.
type Driver struct {
	mu sync.Mutex

	// Partials is consumed one entry per StreamAppend call; each consumed
	// entry fires the partial callback. When exhausted, appends are silent.
	Partials []string

	// Final fires on the final callback at StreamFinish.
	Final string

	// StartErr, AppendErr, FinishErr force the corresponding method to fail.
	// A failing append or finish fires the final callback with "" first,
	// matching the driver failure contract.
	StartErr  error
	AppendErr error
	FinishErr error

	// Records.
	StartCount  int
	Appended    [][]byte
	FinishCount int
	ResetCount  int
	Closed      bool

	streaming bool
	onPartial asr.TextFunc
	onFinal   asr.TextFunc
}

var _ asr.Driver = (*Driver)(nil)

// SetCallbacks implements asr.Driver.
func (d *Driver) SetCallbacks(onPartial, onFinal asr.TextFunc) {
	d.mu.Lock()
	d.onPartial = onPartial
	d.onFinal = onFinal
	d.mu.Unlock()
}

// StreamStart implements asr.Driver.
func (d *Driver) StreamStart(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.StartCount++
	if d.StartErr != nil {
		return d.StartErr
	}
	d.streaming = true
	return nil
}

// StreamAppend implements asr.Driver.
func (d *Driver) StreamAppend(ctx context.Context, chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.streaming {
		return asr.ErrNotStreaming
	}
	d.Appended = append(d.Appended, chunk)

	if d.AppendErr != nil {
		d.streaming = false
		if d.onFinal != nil {
			d.onFinal("")
		}
		return d.AppendErr
	}

	if len(d.Partials) > 0 && d.onPartial != nil {
		text := d.Partials[0]
		d.Partials = d.Partials[1:]
		d.onPartial(text)
	}
	return nil
}

// StreamFinish implements asr.Driver.
func (d *Driver) StreamFinish(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.streaming {
		return asr.ErrNotStreaming
	}
	d.FinishCount++
	d.streaming = false

	if d.FinishErr != nil {
		if d.onFinal != nil {
			d.onFinal("")
		}
		return d.FinishErr
	}
	if d.onFinal != nil {
		d.onFinal(d.Final)
	}
	return nil
}

// Reset implements asr.Driver.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ResetCount++
	d.streaming = false
	d.onPartial = nil
	d.onFinal = nil
}

// Close implements asr.Driver.
func (d *Driver) Close() error {
	d.Reset()

	d.mu.Lock()
	d.Closed = true
	d.mu.Unlock()
	return nil
}
