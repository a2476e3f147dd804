// Package mock provides a test double for the tts.Driver interface.
package mock

import (
	"context"
	"sync"

	"github.com/voxgatehq/voxgate/pkg/provider/tts"
)

// Query records one Query invocation.
type Query struct {
	Text    string
	IsFinal bool
}

// Driver is a mock implementation of tts.Driver. Each Query synchronously
// emits the next scripted chunk to both the callback and the cache; a final
// Query additionally emits the empty end-of-utterance chunk.
type Driver struct {
	mu sync.Mutex

	// Chunks is consumed one entry per Query call with non-empty text.
	Chunks [][]byte

	// QueryErr forces Query to fail.
	QueryErr error

	// Records.
	Queries    []Query
	StopCount  int
	ResetCount int
	Closed     bool

	cache    *tts.Cache
	onAudio  tts.AudioFunc
	stopped  bool
	initOnce sync.Once
}

var _ tts.Driver = (*Driver)(nil)

func (d *Driver) init() {
	d.initOnce.Do(func() {
		d.cache = tts.NewCache()
	})
}

// SetCallback implements tts.Driver.
func (d *Driver) SetCallback(onAudio tts.AudioFunc) {
	d.mu.Lock()
	d.onAudio = onAudio
	d.mu.Unlock()
}

// Cache implements tts.Driver.
func (d *Driver) Cache() *tts.Cache {
	d.init()
	return d.cache
}

// Query implements tts.Driver.
func (d *Driver) Query(ctx context.Context, text string, isFinal bool) error {
	d.init()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.Queries = append(d.Queries, Query{Text: text, IsFinal: isFinal})
	if d.QueryErr != nil {
		return d.QueryErr
	}
	d.stopped = false

	if text != "" && len(d.Chunks) > 0 {
		chunk := d.Chunks[0]
		d.Chunks = d.Chunks[1:]
		d.emit(chunk)
	}
	if isFinal {
		d.emit(nil)
	}
	return nil
}

// emit delivers one chunk to both sinks. Callers hold d.mu.
func (d *Driver) emit(chunk []byte) {
	if d.onAudio != nil {
		d.onAudio(chunk)
	}
	_ = d.cache.AppendDelta(chunk)
}

// Stop implements tts.Driver.
func (d *Driver) Stop() {
	d.mu.Lock()
	d.StopCount++
	d.stopped = true
	d.mu.Unlock()
}

// Reset implements tts.Driver.
func (d *Driver) Reset() {
	d.Stop()
	d.mu.Lock()
	d.ResetCount++
	d.onAudio = nil
	d.mu.Unlock()
}

// Close implements tts.Driver.
func (d *Driver) Close() error {
	d.init()
	d.Reset()

	d.mu.Lock()
	d.Closed = true
	d.mu.Unlock()

	d.cache.Close()
	return nil
}
