// Package asr defines the Driver interface for streaming speech recognition
// backends.
//
// A driver accepts one utterance at a time: StreamStart opens a fresh
// recognition request, StreamAppend feeds it audio, and StreamFinish closes
// the request and forces the final result. Recognized text is delivered
// through callbacks registered with SetCallbacks, never through return
// values, so the session can wire results straight onto its outbound queue.
//
// Implementations must be safe for concurrent use.
package asr

import (
	"context"
	"errors"
)

// ErrNotStreaming is returned by StreamAppend when no utterance is open,
// either because StreamStart was never called or because StreamFinish has
// already completed the current one.
var ErrNotStreaming = errors.New("asr: no active stream")

// ErrClosed is returned by all methods after Close.
var ErrClosed = errors.New("asr: driver is closed")

// TextFunc receives recognized text. Partial callbacks carry the cumulative
// text recognized so far; the final callback carries the complete utterance,
// which may be empty.
type TextFunc func(text string)

// Driver is the abstraction over any streaming recognition backend.
//
// Lifecycle per utterance: StreamStart, zero or more StreamAppend calls,
// StreamFinish. Each StreamStart discards any state left over from a prior
// request and begins with a new request id. The final callback fires exactly
// once per StreamFinish. Provider connection failures mid-utterance fire the
// final callback with an empty string and surface the error to the caller.
type Driver interface {
	// SetCallbacks registers the partial and final result callbacks. Either
	// may be nil. Callbacks registered after StreamStart apply from the next
	// provider update onwards.
	SetCallbacks(onPartial, onFinal TextFunc)

	// StreamStart opens a fresh recognition request.
	StreamStart(ctx context.Context) error

	// StreamAppend feeds one audio chunk to the open request. Chunks may be
	// coalesced internally before transmission; coalescing preserves order
	// and total bytes.
	StreamAppend(ctx context.Context, chunk []byte) error

	// StreamFinish flushes buffered audio, requests the final result, and
	// closes the request. The final callback fires before StreamFinish
	// returns.
	StreamFinish(ctx context.Context) error

	// Reset discards any open request and clears both callbacks. Used when a
	// driver is returned to a shared pool.
	Reset()

	// Close releases the driver permanently.
	Close() error
}
