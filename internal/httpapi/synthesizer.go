package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxgatehq/voxgate/pkg/pool"
	"github.com/voxgatehq/voxgate/pkg/provider/tts"
)

// PoolSynthesizer renders one-shot texts using a driver borrowed from the
// shared TTS pool. The driver is reset and returned once the utterance
// completes, so HTTP synthesis never disturbs a live session's handle.
type PoolSynthesizer struct {
	pool   *pool.Pool[tts.Driver]
	logger *slog.Logger
}

var _ Synthesizer = (*PoolSynthesizer)(nil)

// NewPoolSynthesizer creates a PoolSynthesizer over p.
func NewPoolSynthesizer(p *pool.Pool[tts.Driver], logger *slog.Logger) (*PoolSynthesizer, error) {
	if p == nil {
		return nil, fmt.Errorf("httpapi: tts pool must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PoolSynthesizer{pool: p, logger: logger.With("component", "httpapi")}, nil
}

// Synthesize implements Synthesizer. It collects every chunk of one complete
// utterance and reports the format from the first bytes.
func (ps *PoolSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	driver, err := ps.pool.Acquire(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("httpapi: acquire tts driver: %w", err)
	}
	defer func() {
		driver.Reset()
		if err := ps.pool.Release(driver); err != nil {
			ps.logger.Warn("tts driver release failed", "error", err)
		}
	}()

	var (
		mu   sync.Mutex
		buf  []byte
		once sync.Once
		done = make(chan struct{})
	)
	driver.SetCallback(func(chunk []byte) {
		if len(chunk) == 0 {
			once.Do(func() { close(done) })
			return
		}
		mu.Lock()
		buf = append(buf, chunk...)
		mu.Unlock()
	})

	if err := driver.Query(ctx, text, true); err != nil {
		return nil, "", fmt.Errorf("httpapi: synthesize: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		driver.Stop()
		return nil, "", fmt.Errorf("httpapi: synthesize: %w", ctx.Err())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(buf) == 0 {
		return nil, "", fmt.Errorf("httpapi: synthesis produced no audio")
	}
	contentType := ContentTypePCM
	if isMP3(buf) {
		contentType = ContentTypeMP3
	}
	return buf, contentType, nil
}
