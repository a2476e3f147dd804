package asr_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/voxgatehq/voxgate/pkg/provider/asr"
)

func TestBatcherReleasesAtThreshold(t *testing.T) {
	t.Parallel()

	b := asr.NewChunkBatcher(3)

	for _, c := range []string{"aa", "bb"} {
		batch, err := b.Append([]byte(c))
		if err != nil {
			t.Fatal(err)
		}
		if batch != nil {
			t.Fatalf("premature batch %q", batch)
		}
	}

	batch, err := b.Append([]byte("cc"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(batch, []byte("aabbcc")) {
		t.Errorf("batch = %q, want aabbcc", batch)
	}
	if b.Len() != 0 {
		t.Errorf("buffer not cleared, Len = %d", b.Len())
	}
}

func TestBatcherFlushReturnsRemainder(t *testing.T) {
	t.Parallel()

	b := asr.NewChunkBatcher(10)
	if _, err := b.Append([]byte("xy")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Append([]byte("z")); err != nil {
		t.Fatal(err)
	}

	if got := b.Flush(); !bytes.Equal(got, []byte("xyz")) {
		t.Errorf("flush = %q, want xyz", got)
	}
	if got := b.Flush(); len(got) != 0 {
		t.Errorf("second flush = %q, want empty", got)
	}
}

func TestBatcherRejectsEmptyChunk(t *testing.T) {
	t.Parallel()

	b := asr.NewChunkBatcher(2)
	if _, err := b.Append(nil); !errors.Is(err, asr.ErrEmptyChunk) {
		t.Fatalf("err = %v, want ErrEmptyChunk", err)
	}
}

func TestBatcherPreservesOrderAndBytes(t *testing.T) {
	t.Parallel()

	b := asr.NewChunkBatcher(4)
	var want []byte
	var got []byte
	for i := 0; i < 11; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, i+1)
		want = append(want, chunk...)
		batch, err := b.Append(chunk)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, batch...)
	}
	got = append(got, b.Flush()...)

	if !bytes.Equal(got, want) {
		t.Error("batched bytes differ from input")
	}
}
