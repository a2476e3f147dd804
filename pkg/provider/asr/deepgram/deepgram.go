// Package deepgram provides a streaming recognition driver over the Deepgram
// listen WebSocket API. It implements asr.Driver.
//
// Unlike the lockstep volc protocol, Deepgram pushes results asynchronously:
// a reader goroutine accumulates finalized segments and the current interim
// segment into one cumulative transcript, delivered through the partial
// callback as it grows and through the final callback on StreamFinish.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgatehq/voxgate/pkg/provider/asr"
)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// finishTimeout bounds how long StreamFinish waits for the provider to
	// flush after CloseStream.
	finishTimeout = 5 * time.Second
)

// Option is a functional option for configuring the Driver.
type Option func(*Driver)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(d *Driver) { d.model = model }
}

// WithLanguage sets the BCP-47 recognition language (e.g. "en", "zh-CN").
func WithLanguage(language string) Option {
	return func(d *Driver) { d.language = language }
}

// WithSampleRate sets the input audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(d *Driver) { d.sampleRate = rate }
}

// WithEndpoint overrides the listen endpoint. Used in tests.
func WithEndpoint(endpoint string) Option {
	return func(d *Driver) { d.endpoint = endpoint }
}

// WithBatchSize overrides the number of audio chunks coalesced per
// transmission.
func WithBatchSize(n int) Option {
	return func(d *Driver) { d.batchSize = n }
}

// Driver implements asr.Driver against the Deepgram streaming API.
type Driver struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
	batchSize  int

	mu        sync.Mutex
	conn      *websocket.Conn
	batcher   *asr.ChunkBatcher
	streaming bool
	closed    bool
	onPartial asr.TextFunc
	onFinal   asr.TextFunc

	// segments holds finalized segment texts; interim is the in-progress
	// tail. Guarded by mu.
	segments []string
	interim  string

	readerDone chan struct{}
	readerErr  error
}

var _ asr.Driver = (*Driver)(nil)

// New creates a Driver. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Driver, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("deepgram: apiKey must not be empty")
	}
	d := &Driver{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		batchSize:  asr.DefaultBatchSize,
	}
	for _, o := range opts {
		o(d)
	}
	d.batcher = asr.NewChunkBatcher(d.batchSize)
	return d, nil
}

// SetCallbacks implements asr.Driver.
func (d *Driver) SetCallbacks(onPartial, onFinal asr.TextFunc) {
	d.mu.Lock()
	d.onPartial = onPartial
	d.onFinal = onFinal
	d.mu.Unlock()
}

// buildURL constructs the listen endpoint URL for this driver's audio
// parameters.
func (d *Driver) buildURL() (string, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", d.model)
	q.Set("language", d.language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.sampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// StreamStart implements asr.Driver. It dials a fresh connection and starts
// the result reader.
func (d *Driver) StreamStart(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return asr.ErrClosed
	}
	d.teardownLocked()

	wsURL, err := d.buildURL()
	if err != nil {
		return fmt.Errorf("deepgram: build url: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return fmt.Errorf("deepgram: dial: %w", err)
	}

	d.conn = conn
	d.segments = nil
	d.interim = ""
	d.streaming = true
	d.readerDone = make(chan struct{})
	d.readerErr = nil
	go d.readLoop(conn, d.readerDone)
	return nil
}

// StreamAppend implements asr.Driver. Chunks are coalesced by the batcher;
// every released batch goes out as one binary message.
func (d *Driver) StreamAppend(ctx context.Context, chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return asr.ErrClosed
	}
	if !d.streaming {
		return asr.ErrNotStreaming
	}

	batch, err := d.batcher.Append(chunk)
	if err != nil {
		return err
	}
	if batch == nil {
		return nil
	}

	if err := d.conn.Write(ctx, websocket.MessageBinary, batch); err != nil {
		return d.failLocked(fmt.Errorf("deepgram: append audio: %w", err))
	}
	return nil
}

// StreamFinish implements asr.Driver. The remaining buffered audio goes out,
// followed by CloseStream; the final callback fires with the cumulative
// transcript once the provider flushes.
func (d *Driver) StreamFinish(ctx context.Context) error {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		return asr.ErrClosed
	}
	if !d.streaming {
		d.mu.Unlock()
		return asr.ErrNotStreaming
	}

	conn := d.conn
	done := d.readerDone

	if tail := d.batcher.Flush(); len(tail) > 0 {
		if err := conn.Write(ctx, websocket.MessageBinary, tail); err != nil {
			err = d.failLocked(fmt.Errorf("deepgram: finish stream: %w", err))
			d.mu.Unlock()
			return err
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		err = d.failLocked(fmt.Errorf("deepgram: close stream: %w", err))
		d.mu.Unlock()
		return err
	}
	d.mu.Unlock()

	// The provider flushes remaining results and closes the socket, ending
	// the reader.
	select {
	case <-done:
	case <-time.After(finishTimeout):
	case <-ctx.Done():
	}

	d.mu.Lock()
	text := d.transcriptLocked()
	onFinal := d.onFinal
	d.streaming = false
	d.teardownLocked()
	d.mu.Unlock()

	if onFinal != nil {
		onFinal(text)
	}
	return nil
}

// Reset implements asr.Driver.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.teardownLocked()
	d.streaming = false
	d.batcher.Flush()
	d.onPartial = nil
	d.onFinal = nil
}

// Close implements asr.Driver.
func (d *Driver) Close() error {
	d.Reset()

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// result is the relevant slice of a Deepgram Results message.
type result struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// readLoop drains provider messages, folding them into the cumulative
// transcript and firing the partial callback on growth. It exits when the
// socket closes.
func (d *Driver) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, msg, err := conn.Read(context.Background())
		if err != nil {
			d.mu.Lock()
			d.readerErr = err
			d.mu.Unlock()
			return
		}

		var res result
		if err := json.Unmarshal(msg, &res); err != nil || res.Type != "Results" {
			continue
		}
		if len(res.Channel.Alternatives) == 0 {
			continue
		}
		text := res.Channel.Alternatives[0].Transcript

		d.mu.Lock()
		if d.conn != conn {
			d.mu.Unlock()
			return
		}
		if res.IsFinal {
			if text != "" {
				d.segments = append(d.segments, text)
			}
			d.interim = ""
		} else {
			d.interim = text
		}
		cumulative := d.transcriptLocked()
		onPartial := d.onPartial
		d.mu.Unlock()

		if cumulative != "" && onPartial != nil {
			onPartial(cumulative)
		}
	}
}

// transcriptLocked joins finalized segments plus the interim tail. Callers
// hold d.mu.
func (d *Driver) transcriptLocked() string {
	parts := d.segments
	if d.interim != "" {
		parts = append(append([]string{}, parts...), d.interim)
	}
	return strings.Join(parts, " ")
}

// failLocked handles a mid-utterance transport failure: the final callback
// fires with an empty transcript and the stream is torn down. Callers hold
// d.mu.
func (d *Driver) failLocked(err error) error {
	d.streaming = false
	d.batcher.Flush()
	d.teardownLocked()
	if d.onFinal != nil {
		onFinal := d.onFinal
		go onFinal("")
	}
	return err
}

func (d *Driver) teardownLocked() {
	if d.conn != nil {
		d.conn.Close(websocket.StatusNormalClosure, "stream closed")
		d.conn = nil
	}
}
