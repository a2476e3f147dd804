package llm

import (
	"errors"
	"strings"
	"sync"

	"github.com/voxgatehq/voxgate/pkg/chunker"
)

// ErrStopped is returned by a stream processor that was stopped before the
// model finished generating.
var ErrStopped = errors.New("llm: stream stopped")

// StreamHooks receives the output of a streaming turn.
//
// Ordering guarantee: every OnText call precedes the OnChunk calls derived
// from it, and OnFinish is last. After a stop no further hooks fire.
type StreamHooks struct {
	// OnText receives each raw token as it arrives. May be nil.
	OnText func(token string)

	// OnChunk receives sentence-safe chunks of accumulated text. The final
	// call carries isFinal = true and whatever remainder is pending (which
	// may be empty). May be nil.
	OnChunk func(text string, isFinal bool)

	// OnFinish receives the full generated text after the final chunk.
	// May be nil.
	OnFinish func(full string)
}

// StreamProcessor consumes a provider chunk stream, forwarding tokens to
// OnText and sentence-safe fragments (found via the chunker) to OnChunk.
type StreamProcessor struct {
	language string
	hooks    StreamHooks

	stopOnce sync.Once
	stopped  chan struct{}
}

// NewStreamProcessor creates a processor splitting text per the given
// language tag.
func NewStreamProcessor(language string, hooks StreamHooks) *StreamProcessor {
	return &StreamProcessor{
		language: language,
		hooks:    hooks,
		stopped:  make(chan struct{}),
	}
}

// Stop halts the processor. Tokens already in flight may still be observed
// by OnChunk, but no new tokens are processed and neither the final chunk
// nor OnFinish fire.
func (p *StreamProcessor) Stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
}

// Run drains chunks until the stream ends, the processor is stopped, or the
// provider reports an error. It returns the full generated text.
func (p *StreamProcessor) Run(chunks <-chan Chunk) (string, error) {
	var full, pending strings.Builder

	for chunk := range chunks {
		select {
		case <-p.stopped:
			// Keep draining so the provider goroutine can exit.
			for range chunks {
			}
			return full.String(), ErrStopped
		default:
		}

		if chunk.FinishReason == "error" {
			return full.String(), errors.New("llm: provider stream: " + chunk.Text)
		}
		if chunk.Text == "" {
			continue
		}

		if p.hooks.OnText != nil {
			p.hooks.OnText(chunk.Text)
		}
		full.WriteString(chunk.Text)
		pending.WriteString(chunk.Text)

		// Flush every safe sentence boundary in the pending buffer.
		rest := pending.String()
		for {
			c, r := chunker.Split(rest, p.language)
			if c == "" {
				break
			}
			if p.hooks.OnChunk != nil {
				p.hooks.OnChunk(c, false)
			}
			rest = r
		}
		pending.Reset()
		pending.WriteString(rest)
	}

	select {
	case <-p.stopped:
		return full.String(), ErrStopped
	default:
	}

	if p.hooks.OnChunk != nil {
		p.hooks.OnChunk(pending.String(), true)
	}
	if p.hooks.OnFinish != nil {
		p.hooks.OnFinish(full.String())
	}
	return full.String(), nil
}
