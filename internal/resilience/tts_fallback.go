package resilience

import (
	"context"
	"errors"
	"sync"

	"github.com/voxgatehq/voxgate/pkg/provider/tts"
)

// TTSFallback implements [tts.Driver] with automatic failover across multiple
// synthesis backends. Each Query is tried against the first healthy backend
// through its circuit breaker.
//
// The fallback owns its own audio cache: every underlying driver is rewired to
// deliver chunks through the fallback, which fans them out to the session
// callback and to the shared cache. Pull tokens issued against
// [TTSFallback.Cache] therefore stay valid no matter which backend produced
// the audio.
type TTSFallback struct {
	group *FallbackGroup[tts.Driver]
	cache *tts.Cache

	mu      sync.Mutex
	onAudio tts.AudioFunc
}

// Compile-time interface assertion.
var _ tts.Driver = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Driver, primaryName string, cfg FallbackConfig, cacheOpts ...tts.CacheOption) *TTSFallback {
	f := &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
		cache: tts.NewCache(cacheOpts...),
	}
	primary.SetCallback(f.deliver)
	return f
}

// AddFallback registers an additional synthesis driver as a fallback.
func (f *TTSFallback) AddFallback(name string, driver tts.Driver) {
	driver.SetCallback(f.deliver)
	f.group.AddFallback(name, driver)
}

// SetCallback implements [tts.Driver].
func (f *TTSFallback) SetCallback(onAudio tts.AudioFunc) {
	f.mu.Lock()
	f.onAudio = onAudio
	f.mu.Unlock()
}

// Cache implements [tts.Driver]. It returns the shared cache fed by every
// backend.
func (f *TTSFallback) Cache() *tts.Cache { return f.cache }

// Query implements [tts.Driver], submitting the fragment to the first healthy
// backend. Audio order within an utterance is preserved as long as the same
// backend stays healthy; a failover mid-utterance hands the remaining
// fragments to the next backend.
func (f *TTSFallback) Query(ctx context.Context, text string, isFinal bool) error {
	return f.group.Execute(func(d tts.Driver) error {
		return d.Query(ctx, text, isFinal)
	})
}

// Stop implements [tts.Driver], stopping every backend.
func (f *TTSFallback) Stop() {
	for i := range f.group.entries {
		f.group.entries[i].value.Stop()
	}
}

// Reset implements [tts.Driver]. Backends are stopped but keep their delivery
// wiring; only the session callback is dropped.
func (f *TTSFallback) Reset() {
	f.Stop()
	f.SetCallback(nil)
}

// Close implements [tts.Driver], closing every backend and the shared cache.
func (f *TTSFallback) Close() error {
	var errs []error
	for i := range f.group.entries {
		if err := f.group.entries[i].value.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.cache.Close()
	return errors.Join(errs...)
}

// deliver fans one chunk from whichever backend produced it out to the session
// callback and the shared cache.
func (f *TTSFallback) deliver(chunk []byte) {
	f.mu.Lock()
	cb := f.onAudio
	f.mu.Unlock()

	if cb != nil {
		cb(chunk)
	}
	_ = f.cache.AppendDelta(chunk)
}
