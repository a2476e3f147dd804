// Package elevenlabs provides a streaming synthesis driver over the
// ElevenLabs stream-input WebSocket API. It implements tts.Driver.
//
// Each synthesis subtask sends its text over a per-utterance socket and
// drains base64 PCM responses into the driver's two sinks. Subtasks run on a
// single worker consuming a bounded queue, so audio for consecutive sentence
// chunks always arrives in submission order.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/voxgatehq/voxgate/pkg/provider/tts"
)

const (
	wsEndpointFmt = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"

	defaultModel        = "eleven_flash_v2_5"
	defaultOutputFormat = "pcm_24000"

	// defaultQueueSize bounds the synthesis backlog.
	defaultQueueSize = 1000

	// idleInterval is how often the idle worker wakes to report liveness.
	idleInterval = 60 * time.Second

	// pacingInterval is the minimum spacing between consecutive synthesis
	// subtasks.
	pacingInterval = 100 * time.Millisecond

	// responseTimeout bounds each socket operation within a subtask.
	responseTimeout = 10 * time.Second
)

// Option is a functional option for configuring the Driver.
type Option func(*Driver)

// WithModel sets the ElevenLabs model id.
func WithModel(model string) Option {
	return func(d *Driver) { d.model = model }
}

// WithOutputFormat sets the audio output format (e.g. "pcm_16000",
// "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(d *Driver) { d.outputFormat = format }
}

// WithQueueSize overrides the synthesis queue capacity.
func WithQueueSize(n int) Option {
	return func(d *Driver) { d.queueSize = n }
}

// WithCacheOptions configures the driver's audio cache.
func WithCacheOptions(opts ...tts.CacheOption) Option {
	return func(d *Driver) { d.cacheOpts = opts }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// task is one queued synthesis subtask.
type task struct {
	text    string
	isFinal bool
}

// Driver implements tts.Driver against the ElevenLabs streaming API.
type Driver struct {
	apiKey  string
	voiceID string

	model        string
	outputFormat string
	queueSize    int
	cacheOpts    []tts.CacheOption
	logger       *slog.Logger

	cache  *tts.Cache
	queue  chan task
	active atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	onAudio tts.AudioFunc
}

var _ tts.Driver = (*Driver)(nil)

// New creates a Driver and starts its synthesis worker. apiKey and voiceID
// must be non-empty.
func New(apiKey, voiceID string, opts ...Option) (*Driver, error) {
	if apiKey == "" || voiceID == "" {
		return nil, fmt.Errorf("elevenlabs: apiKey and voiceID must not be empty")
	}
	d := &Driver{
		apiKey:       apiKey,
		voiceID:      voiceID,
		model:        defaultModel,
		outputFormat: defaultOutputFormat,
		queueSize:    defaultQueueSize,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.cache = tts.NewCache(d.cacheOpts...)
	d.queue = make(chan task, d.queueSize)
	d.active.Store(true)

	d.wg.Add(1)
	go d.worker()
	return d, nil
}

// SetCallback implements tts.Driver.
func (d *Driver) SetCallback(onAudio tts.AudioFunc) {
	d.mu.Lock()
	d.onAudio = onAudio
	d.mu.Unlock()
}

// Cache implements tts.Driver.
func (d *Driver) Cache() *tts.Cache { return d.cache }

// Query implements tts.Driver.
func (d *Driver) Query(ctx context.Context, text string, isFinal bool) error {
	select {
	case <-d.done:
		return tts.ErrClosed
	default:
	}

	d.active.Store(true)
	select {
	case d.queue <- task{text: text, isFinal: isFinal}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return tts.ErrQueueFull
	}
}

// Stop implements tts.Driver.
func (d *Driver) Stop() {
	d.active.Store(false)
}

// Reset implements tts.Driver.
func (d *Driver) Reset() {
	d.Stop()
	d.SetCallback(nil)
}

// Close implements tts.Driver.
func (d *Driver) Close() error {
	d.closeOnce.Do(func() {
		d.active.Store(false)
		close(d.done)
		d.wg.Wait()
		d.cache.Close()
	})
	return nil
}

// worker consumes the synthesis queue sequentially, pacing consecutive
// subtasks and logging liveness while idle.
func (d *Driver) worker() {
	defer d.wg.Done()

	idle := time.NewTimer(idleInterval)
	defer idle.Stop()

	for {
		idle.Reset(idleInterval)
		select {
		case <-d.done:
			return
		case t := <-d.queue:
			start := time.Now()
			if err := d.handle(t); err != nil {
				d.logger.Error("synthesis subtask failed", "error", err)
			} else {
				d.logger.Debug("synthesis subtask done",
					"chars", len(t.text), "final", t.isFinal, "elapsed", time.Since(start))
			}
			select {
			case <-time.After(pacingInterval):
			case <-d.done:
				return
			}
		case <-idle.C:
			d.logger.Debug("synthesis worker idle")
		}
	}
}

// handle runs one synthesis subtask and on the final subtask delivers the
// empty end-of-utterance chunk.
func (d *Driver) handle(t task) error {
	if !d.active.Load() {
		return nil
	}

	if t.text != "" {
		if err := d.synthesize(t.text); err != nil {
			return err
		}
	}

	if t.isFinal && d.active.Load() {
		d.deliver(nil)
	}
	return nil
}

// beginMessage opens a stream-input session: the API requires a single
// whitespace first text value alongside authentication and voice settings.
type beginMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// textMessage carries one text fragment; an empty Text flushes the stream.
type textMessage struct {
	Text string `json:"text"`
}

// audioResponse is one server message: base64 audio plus the end flag.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// synthesize runs one text fragment through a fresh stream-input socket and
// drains its audio into both sinks. The API closes input per utterance, so
// connections are not reused across subtasks.
func (d *Driver) synthesize(text string) error {
	ctx, cancel := context.WithTimeout(context.Background(), responseTimeout)
	defer cancel()

	wsURL := fmt.Sprintf(wsEndpointFmt, d.voiceID, d.model, d.outputFormat)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "synthesis done")

	begin := beginMessage{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		XiAPIKey:      d.apiKey,
	}
	if err := writeJSON(ctx, conn, begin); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if err := writeJSON(ctx, conn, textMessage{Text: text}); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	// Empty text flushes the stream so the server finishes this utterance.
	if err := writeJSON(ctx, conn, textMessage{}); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	for {
		readCtx, readCancel := context.WithTimeout(context.Background(), responseTimeout)
		_, msg, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			d.logger.Debug("undecodable synthesis message", "error", err)
			continue
		}
		if resp.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return fmt.Errorf("decode audio: %w", err)
			}
			if d.active.Load() {
				d.deliver(pcm)
			}
		}
		if resp.IsFinal {
			return nil
		}
	}
}

// deliver fans one chunk out to the realtime callback and the audio cache.
// An empty chunk closes the utterance on both sinks.
func (d *Driver) deliver(chunk []byte) {
	d.mu.Lock()
	cb := d.onAudio
	d.mu.Unlock()

	if cb != nil {
		cb(chunk)
	}
	if err := d.cache.AppendDelta(chunk); err != nil {
		d.logger.Debug("cache append skipped", "error", err)
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
