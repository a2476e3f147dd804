package resilience

import (
	"context"
	"errors"
	"sync"

	"github.com/voxgatehq/voxgate/pkg/provider/asr"
)

// ASRFallback implements [asr.Driver] with automatic failover across multiple
// recognition backends. Failover happens at utterance boundaries: StreamStart
// selects the first healthy driver through its circuit breaker, and the whole
// utterance (appends and finish) sticks to that driver. A mid-utterance
// transport failure ends the utterance like any single-driver failure; the
// next StreamStart picks a healthy backend again.
type ASRFallback struct {
	group *FallbackGroup[asr.Driver]

	mu        sync.Mutex
	current   asr.Driver
	onPartial asr.TextFunc
	onFinal   asr.TextFunc
}

// Compile-time interface assertion.
var _ asr.Driver = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred backend.
func NewASRFallback(primary asr.Driver, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional recognition driver as a fallback.
func (f *ASRFallback) AddFallback(name string, driver asr.Driver) {
	f.group.AddFallback(name, driver)
}

// SetCallbacks implements [asr.Driver]. The callbacks are installed on
// whichever backend StreamStart selects.
func (f *ASRFallback) SetCallbacks(onPartial, onFinal asr.TextFunc) {
	f.mu.Lock()
	f.onPartial = onPartial
	f.onFinal = onFinal
	f.mu.Unlock()
}

// StreamStart implements [asr.Driver]. It opens an utterance on the first
// healthy backend and pins the utterance to it.
func (f *ASRFallback) StreamStart(ctx context.Context) error {
	f.mu.Lock()
	onPartial, onFinal := f.onPartial, f.onFinal
	f.mu.Unlock()

	var selected asr.Driver
	err := f.group.Execute(func(d asr.Driver) error {
		d.SetCallbacks(onPartial, onFinal)
		if err := d.StreamStart(ctx); err != nil {
			return err
		}
		selected = d
		return nil
	})
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.current = selected
	f.mu.Unlock()
	return nil
}

// StreamAppend implements [asr.Driver], delegating to the driver pinned by the
// last StreamStart.
func (f *ASRFallback) StreamAppend(ctx context.Context, chunk []byte) error {
	d := f.currentDriver()
	if d == nil {
		return asr.ErrNotStreaming
	}
	return d.StreamAppend(ctx, chunk)
}

// StreamFinish implements [asr.Driver]. The utterance ends on the pinned
// driver and the pin is released.
func (f *ASRFallback) StreamFinish(ctx context.Context) error {
	f.mu.Lock()
	d := f.current
	f.current = nil
	f.mu.Unlock()

	if d == nil {
		return asr.ErrNotStreaming
	}
	return d.StreamFinish(ctx)
}

// Reset implements [asr.Driver], resetting every backend.
func (f *ASRFallback) Reset() {
	f.mu.Lock()
	f.current = nil
	f.onPartial = nil
	f.onFinal = nil
	f.mu.Unlock()

	for i := range f.group.entries {
		f.group.entries[i].value.Reset()
	}
}

// Close implements [asr.Driver], closing every backend.
func (f *ASRFallback) Close() error {
	f.mu.Lock()
	f.current = nil
	f.mu.Unlock()

	var errs []error
	for i := range f.group.entries {
		if err := f.group.entries[i].value.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *ASRFallback) currentDriver() asr.Driver {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}
