package asr

import (
	"errors"
	"sync"
)

// DefaultBatchSize is the number of 30 ms audio chunks coalesced into one
// provider transmission, roughly 450 ms of audio.
const DefaultBatchSize = 15

// ErrEmptyChunk is returned when an empty chunk is appended to a batcher.
var ErrEmptyChunk = errors.New("asr: empty audio chunk")

// ChunkBatcher coalesces small audio chunks into larger batches to cut down
// provider round trips. Order and total bytes are preserved. Safe for
// concurrent use.
type ChunkBatcher struct {
	mu      sync.Mutex
	chunks  [][]byte
	total   int
	maxSize int
}

// NewChunkBatcher creates a batcher that releases a batch every maxSize
// chunks. maxSize must be positive; zero falls back to DefaultBatchSize.
func NewChunkBatcher(maxSize int) *ChunkBatcher {
	if maxSize <= 0 {
		maxSize = DefaultBatchSize
	}
	return &ChunkBatcher{maxSize: maxSize}
}

// Append adds one chunk. When the batch threshold is reached the concatenated
// batch is returned and the buffer is cleared; otherwise the returned slice
// is nil.
func (b *ChunkBatcher) Append(chunk []byte) ([]byte, error) {
	if len(chunk) == 0 {
		return nil, ErrEmptyChunk
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.chunks = append(b.chunks, chunk)
	b.total += len(chunk)

	if len(b.chunks) >= b.maxSize {
		return b.take(), nil
	}
	return nil, nil
}

// Flush returns whatever is buffered, possibly empty, and clears the buffer.
func (b *ChunkBatcher) Flush() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.take()
}

// Len reports the number of buffered chunks.
func (b *ChunkBatcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks)
}

func (b *ChunkBatcher) take() []byte {
	if len(b.chunks) == 0 {
		return nil
	}
	out := make([]byte, 0, b.total)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	b.chunks = b.chunks[:0]
	b.total = 0
	return out
}
