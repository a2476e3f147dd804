// Package volc provides a streaming recognition driver speaking the
// Volcengine binary WebSocket protocol: gzip-compressed JSON and audio
// payloads behind a 4-byte bit-packed header. It implements asr.Driver.
//
// The provider does not support reusing a WebSocket connection across
// utterances, so every StreamStart dials a fresh connection and every
// StreamFinish tears it down.
package volc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxgatehq/voxgate/pkg/provider/asr"
)

const (
	defaultWorkflow   = "audio_in,resample,partition,vad,fe,decode,itn,nlu_punctuate"
	defaultLanguage   = "zh-CN"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Driver.
type Option func(*Driver)

// WithLanguage sets the recognition language tag (e.g. "zh-CN", "en-US").
func WithLanguage(language string) Option {
	return func(d *Driver) {
		d.language = language
	}
}

// WithSampleRate sets the input audio sample rate in Hz.
func WithSampleRate(rate int) Option {
	return func(d *Driver) {
		d.sampleRate = rate
	}
}

// WithWorkflow overrides the provider-side processing workflow.
func WithWorkflow(workflow string) Option {
	return func(d *Driver) {
		d.workflow = workflow
	}
}

// WithUID tags requests with the end user id for provider-side accounting.
func WithUID(uid string) Option {
	return func(d *Driver) {
		d.uid = uid
	}
}

// WithBatchSize overrides the number of audio chunks coalesced per
// transmission.
func WithBatchSize(n int) Option {
	return func(d *Driver) {
		d.batchSize = n
	}
}

// Driver implements asr.Driver against the Volcengine streaming API.
type Driver struct {
	url     string
	appID   string
	cluster string
	token   string

	uid        string
	workflow   string
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
}

var _ asr.Driver = (*Driver)(nil)

// New creates a Driver. url, appID, cluster, and token must be non-empty.
func New(url, appID, cluster, token string, opts ...Option) (*Driver, error) {
	if url == "" || appID == "" || cluster == "" || token == "" {
		return nil, fmt.Errorf("volc: url, appID, cluster, and token must not be empty")
	}
	d := &Driver{
		url:        url,
		appID:      appID,
		cluster:    cluster,
		token:      token,
		workflow:   defaultWorkflow,
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

// requestConfig is the JSON body of the opening full request.
type requestConfig struct {
	App struct {
		AppID   string `json:"appid"`
		Cluster string `json:"cluster"`
		Token   string `json:"token"`
	} `json:"app"`
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Request struct {
		ReqID          string `json:"reqid"`
		NBest          int    `json:"nbest"`
		Workflow       string `json:"workflow"`
		ShowLanguage   bool   `json:"show_language"`
		ShowUtterances bool   `json:"show_utterances"`
		ResultType     string `json:"result_type"`
		Sequence       int    `json:"sequence"`
	} `json:"request"`
	Audio struct {
		Format   string `json:"format"`
		Rate     int    `json:"rate"`
		Language string `json:"language"`
		Bits     int    `json:"bits"`
		Channel  int    `json:"channel"`
		Codec    string `json:"codec"`
	} `json:"audio"`
}

func (d *Driver) buildConfig(reqID string) requestConfig {
	var cfg requestConfig
	cfg.App.AppID = d.appID
	cfg.App.Cluster = d.cluster
	cfg.App.Token = d.token
	cfg.User.UID = d.uid
	cfg.Request.ReqID = reqID
	cfg.Request.NBest = 1
	cfg.Request.Workflow = d.workflow
	cfg.Request.ResultType = "full"
	cfg.Request.Sequence = 1
	cfg.Audio.Format = "pcm"
	cfg.Audio.Rate = d.sampleRate
	cfg.Audio.Language = d.language
	cfg.Audio.Bits = 16
	cfg.Audio.Channel = 1
	cfg.Audio.Codec = "raw"
	return cfg
}

// StreamStart implements asr.Driver. It dials a new connection and sends the
// opening request carrying the full recognition configuration.
func (d *Driver) StreamStart(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return asr.ErrClosed
	}
	d.teardownLocked()

	body, err := json.Marshal(d.buildConfig(uuid.New().String()))
	if err != nil {
		return fmt.Errorf("volc: marshal config: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer; "+d.token)

	conn, _, err := websocket.Dial(ctx, d.url, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return fmt.Errorf("volc: dial: %w", err)
	}
	d.conn = conn

	if _, err := d.exchangeLocked(ctx, msgClientFullRequest, flagNoSequence, body); err != nil {
		d.teardownLocked()
		return fmt.Errorf("volc: open stream: %w", err)
	}

	d.streaming = true
	return nil
}

// StreamAppend implements asr.Driver. Chunks are coalesced by the batcher;
// every released batch is one audio-only request whose response may carry a
// cumulative partial transcript.
func (d *Driver) StreamAppend(ctx context.Context, chunk []byte) error {
	d.mu.Lock()

	if d.closed {
		d.mu.Unlock()
		return asr.ErrClosed
	}
	if !d.streaming {
		d.mu.Unlock()
		return asr.ErrNotStreaming
	}

	batch, err := d.batcher.Append(chunk)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if batch == nil {
		d.mu.Unlock()
		return nil
	}

	text, err := d.exchangeLocked(ctx, msgClientAudioOnly, flagNoSequence, batch)
	if err != nil {
		onFinal := d.failLocked()
		d.mu.Unlock()
		if onFinal != nil {
			onFinal("")
		}
		return fmt.Errorf("volc: append audio: %w", err)
	}
	onPartial := d.onPartial
	d.mu.Unlock()

	if text != "" && onPartial != nil {
		onPartial(text)
	}
	return nil
}

// StreamFinish implements asr.Driver. The remaining buffered audio goes out
// with the negative-sequence flag marking end of stream, and the response
// carries the final transcript.
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

	tail := d.batcher.Flush()
	text, err := d.exchangeLocked(ctx, msgClientAudioOnly, flagNegSequence, tail)
	if err != nil {
		onFinal := d.failLocked()
		d.mu.Unlock()
		if onFinal != nil {
			onFinal("")
		}
		return fmt.Errorf("volc: finish stream: %w", err)
	}

	d.streaming = false
	d.teardownLocked()
	onFinal := d.onFinal
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

// exchangeLocked sends one frame and reads its response in lockstep,
// returning any recognized text in the response payload. Callers hold d.mu.
func (d *Driver) exchangeLocked(ctx context.Context, msgType, flags byte, payload []byte) (string, error) {
	frame, err := encodeFrame(msgType, flags, payload)
	if err != nil {
		return "", err
	}
	if err := d.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return "", fmt.Errorf("write frame: %w", err)
	}

	_, resp, err := d.conn.Read(ctx)
	if err != nil {
		return "", fmt.Errorf("read frame: %w", err)
	}

	f, err := decodeFrame(resp)
	if err != nil {
		return "", err
	}
	if f.MessageType == msgServerError {
		return "", fmt.Errorf("provider error %d: %s", f.Code, f.Payload)
	}
	return extractText(f.Payload), nil
}

// failLocked tears the stream down after a mid-utterance transport failure
// and hands back the final callback, which the caller invokes with an empty
// transcript once the lock is released. Callers hold d.mu.
func (d *Driver) failLocked() asr.TextFunc {
	d.streaming = false
	d.batcher.Flush()
	d.teardownLocked()
	return d.onFinal
}

func (d *Driver) teardownLocked() {
	if d.conn != nil {
		d.conn.Close(websocket.StatusNormalClosure, "stream closed")
		d.conn = nil
	}
}
