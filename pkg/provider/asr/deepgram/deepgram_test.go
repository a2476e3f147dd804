package deepgram

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"github.com/voxgatehq/voxgate/pkg/provider/asr"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty api key")
	}
}

func TestBuildURLParams(t *testing.T) {
	t.Parallel()

	d, err := New("key", WithModel("base"), WithLanguage("zh-CN"), WithSampleRate(8000))
	if err != nil {
		t.Fatal(err)
	}

	raw, err := d.buildURL()
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}

	q := u.Query()
	want := map[string]string{
		"model":           "base",
		"language":        "zh-CN",
		"encoding":        "linear16",
		"sample_rate":     "8000",
		"channels":        "1",
		"interim_results": "true",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestAppendBeforeStart(t *testing.T) {
	t.Parallel()

	d, err := New("key")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.StreamAppend(context.Background(), []byte{1, 2}); err != asr.ErrNotStreaming {
		t.Errorf("StreamAppend = %v, want ErrNotStreaming", err)
	}
	if err := d.StreamFinish(context.Background()); err != asr.ErrNotStreaming {
		t.Errorf("StreamFinish = %v, want ErrNotStreaming", err)
	}
}

func TestClosedDriver(t *testing.T) {
	t.Parallel()

	d, err := New("key")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.StreamStart(context.Background()); err != asr.ErrClosed {
		t.Errorf("StreamStart after Close = %v, want ErrClosed", err)
	}
}

func TestTranscriptAccumulation(t *testing.T) {
	t.Parallel()

	d, err := New("key")
	if err != nil {
		t.Fatal(err)
	}

	d.mu.Lock()
	d.segments = []string{"the quick", "brown fox"}
	d.interim = "jumps"
	got := d.transcriptLocked()
	d.mu.Unlock()

	if got != "the quick brown fox jumps" {
		t.Errorf("transcript = %q", got)
	}
}

func TestResultDecoding(t *testing.T) {
	t.Parallel()

	msg := []byte(`{"type":"Results","is_final":true,` +
		`"channel":{"alternatives":[{"transcript":"hello world","confidence":0.98}]}}`)

	var res result
	if err := json.Unmarshal(msg, &res); err != nil {
		t.Fatal(err)
	}
	if !res.IsFinal {
		t.Error("is_final not decoded")
	}
	if got := res.Channel.Alternatives[0].Transcript; got != "hello world" {
		t.Errorf("transcript = %q", got)
	}
}
