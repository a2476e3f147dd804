package resilience

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	ttsmock "github.com/voxgatehq/voxgate/pkg/provider/tts/mock"
)

func TestTTSFallback_PrimarySuccess(t *testing.T) {
	primary := &ttsmock.Driver{Chunks: [][]byte{{1, 2, 3}}}
	secondary := &ttsmock.Driver{Chunks: [][]byte{{9, 9, 9}}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	defer fb.Close()
	fb.AddFallback("secondary", secondary)

	var got [][]byte
	fb.SetCallback(func(chunk []byte) { got = append(got, chunk) })

	if err := fb.Query(context.Background(), "hello", false); err != nil {
		t.Fatalf("Query: %v", err)
	}

	if len(got) != 1 || !bytes.Equal(got[0], []byte{1, 2, 3}) {
		t.Fatalf("delivered chunks = %v, want primary's chunk", got)
	}
	if len(secondary.Queries) != 0 {
		t.Fatalf("secondary queried %d times, want 0", len(secondary.Queries))
	}
}

func TestTTSFallback_QueryFailover(t *testing.T) {
	primary := &ttsmock.Driver{QueryErr: errors.New("primary down")}
	secondary := &ttsmock.Driver{Chunks: [][]byte{{4, 5}}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	defer fb.Close()
	fb.AddFallback("secondary", secondary)

	var got [][]byte
	fb.SetCallback(func(chunk []byte) { got = append(got, chunk) })

	if err := fb.Query(context.Background(), "hello", false); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || !bytes.Equal(got[0], []byte{4, 5}) {
		t.Fatalf("delivered chunks = %v, want secondary's chunk", got)
	}
}

func TestTTSFallback_AllFail(t *testing.T) {
	primary := &ttsmock.Driver{QueryErr: errors.New("primary down")}
	secondary := &ttsmock.Driver{QueryErr: errors.New("secondary down")}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	defer fb.Close()
	fb.AddFallback("secondary", secondary)

	if err := fb.Query(context.Background(), "hello", false); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_SharedCacheAcrossBackends(t *testing.T) {
	primary := &ttsmock.Driver{QueryErr: errors.New("primary down")}
	secondary := &ttsmock.Driver{Chunks: [][]byte{{7, 7}}}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	defer fb.Close()
	fb.AddFallback("secondary", secondary)

	reqID := fb.Cache().CreateRequest()

	ctx := context.Background()
	if err := fb.Query(ctx, "hello", false); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if err := fb.Query(ctx, "", true); err != nil {
		t.Fatalf("final Query: %v", err)
	}

	// Audio produced by the fallback backend must be pullable through the
	// fallback's own cache under the token issued before the failover.
	streamCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ch, err := fb.Cache().StreamAudio(streamCtx, reqID)
	if err != nil {
		t.Fatalf("StreamAudio: %v", err)
	}

	var audio []byte
	for chunk := range ch {
		audio = append(audio, chunk...)
	}
	if !bytes.Equal(audio, []byte{7, 7}) {
		t.Fatalf("cached audio = %v, want [7 7]", audio)
	}
}

func TestTTSFallback_StopStopsAll(t *testing.T) {
	primary := &ttsmock.Driver{}
	secondary := &ttsmock.Driver{}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	defer fb.Close()
	fb.AddFallback("secondary", secondary)

	fb.Stop()
	if primary.StopCount != 1 || secondary.StopCount != 1 {
		t.Fatalf("stop counts = %d/%d, want 1/1", primary.StopCount, secondary.StopCount)
	}
}

func TestTTSFallback_CloseClosesAll(t *testing.T) {
	primary := &ttsmock.Driver{}
	secondary := &ttsmock.Driver{}

	fb := NewTTSFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	if err := fb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !primary.Closed || !secondary.Closed {
		t.Fatal("expected both backends closed")
	}
}
