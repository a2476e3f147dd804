// Package tts defines the Driver interface for streaming speech synthesis
// backends.
//
// Text arrives incrementally as the LLM produces sentence chunks. Each Query
// pushes a synthesis subtask onto the driver's internal queue; the worker
// executes subtasks sequentially and fans the resulting audio out to two
// sinks: the registered callback for realtime push, and the driver's Cache
// for HTTP pull. End of utterance is signaled by delivering an empty chunk
// to both sinks.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrClosed is returned by all methods after Close.
var ErrClosed = errors.New("tts: driver is closed")

// ErrQueueFull is returned by Query when the synthesis queue is saturated.
var ErrQueueFull = errors.New("tts: synthesis queue is full")

// AudioFunc receives synthesized audio. An empty chunk marks the end of the
// current utterance.
type AudioFunc func(chunk []byte)

// Driver is the abstraction over any streaming synthesis backend.
type Driver interface {
	// SetCallback registers the realtime audio sink. A nil callback drops
	// realtime delivery; cache delivery is unaffected.
	SetCallback(onAudio AudioFunc)

	// Query enqueues one synthesis subtask. isFinal marks the last chunk of
	// the utterance; its completion delivers the empty end-of-utterance
	// chunk to both sinks.
	Query(ctx context.Context, text string, isFinal bool) error

	// Stop abandons the current utterance. Queued subtasks are skipped and
	// no further audio is delivered until the next Query.
	Stop()

	// Cache returns the audio cache backing the HTTP pull endpoint.
	Cache() *Cache

	// Reset stops speaking and clears the callback. Used when a driver is
	// returned to a shared pool.
	Reset()

	// Close releases the driver permanently.
	Close() error
}
