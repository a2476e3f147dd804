// Package volc provides a streaming synthesis driver speaking the
// Volcengine binary WebSocket protocol. It implements tts.Driver.
//
// Synthesis subtasks run on a single worker consuming a bounded queue, so
// audio for consecutive sentence chunks always arrives in submission order.
package volc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxgatehq/voxgate/pkg/provider/tts"
)

const (
	// defaultQueueSize bounds the synthesis backlog.
	defaultQueueSize = 1000

	// idleInterval is how often the idle worker wakes to report liveness.
	idleInterval = 60 * time.Second

	// pacingInterval is the minimum spacing between consecutive synthesis
	// subtasks.
	pacingInterval = 100 * time.Millisecond

	// responseTimeout bounds each read while draining a synthesis response.
	responseTimeout = 10 * time.Second

	defaultVoice    = "BV064_streaming"
	defaultEncoding = "pcm"
)

// Option is a functional option for configuring the Driver.
type Option func(*Driver)

// WithVoice sets the synthesis voice type.
func WithVoice(voice string) Option {
	return func(d *Driver) { d.voiceType = voice }
}

// WithEncoding sets the output audio encoding ("pcm", "mp3", "ogg_opus").
func WithEncoding(encoding string) Option {
	return func(d *Driver) { d.encoding = encoding }
}

// WithUID tags requests with the end user id.
func WithUID(uid string) Option {
	return func(d *Driver) { d.uid = uid }
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

// Driver implements tts.Driver against the Volcengine streaming API.
type Driver struct {
	url     string
	appID   string
	cluster string
	token   string

	uid       string
	voiceType string
	encoding  string
	queueSize int
	cacheOpts []tts.CacheOption
	logger    *slog.Logger

	cache  *tts.Cache
	queue  chan task
	active atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	conn    *websocket.Conn
	onAudio tts.AudioFunc
}

var _ tts.Driver = (*Driver)(nil)

// New creates a Driver and starts its synthesis worker. url, appID, cluster,
// and token must be non-empty.
func New(url, appID, cluster, token string, opts ...Option) (*Driver, error) {
	if url == "" || appID == "" || cluster == "" || token == "" {
		return nil, fmt.Errorf("volc: url, appID, cluster, and token must not be empty")
	}
	d := &Driver{
		url:       url,
		appID:     appID,
		cluster:   cluster,
		token:     token,
		voiceType: defaultVoice,
		encoding:  defaultEncoding,
		queueSize: defaultQueueSize,
		done:      make(chan struct{}),
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
		d.teardown()
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

// requestBody is the JSON body of one synthesis request.
type requestBody struct {
	App struct {
		AppID   string `json:"appid"`
		Token   string `json:"token"`
		Cluster string `json:"cluster"`
	} `json:"app"`
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		VoiceType   string  `json:"voice_type"`
		Encoding    string  `json:"encoding"`
		SpeedRatio  float64 `json:"speed_ratio"`
		VolumeRatio float64 `json:"volume_ratio"`
		PitchRatio  float64 `json:"pitch_ratio"`
	} `json:"audio"`
	Request struct {
		ReqID     string `json:"reqid"`
		Text      string `json:"text"`
		TextType  string `json:"text_type"`
		Operation string `json:"operation"`
	} `json:"request"`
}

func (d *Driver) buildBody(text string) requestBody {
	var b requestBody
	b.App.AppID = d.appID
	b.App.Token = d.token
	b.App.Cluster = d.cluster
	b.User.UID = d.uid
	b.Audio.VoiceType = d.voiceType
	b.Audio.Encoding = d.encoding
	b.Audio.SpeedRatio = 1.0
	b.Audio.VolumeRatio = 1.0
	b.Audio.PitchRatio = 1.0
	b.Request.ReqID = fmt.Sprintf("%x", [16]byte(uuid.New()))
	b.Request.Text = text
	b.Request.TextType = "plain"
	b.Request.Operation = "submit"
	return b
}

// handle runs one synthesis subtask: send the request, drain its response
// stream into both sinks, and on the final subtask deliver the empty
// end-of-utterance chunk.
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

func (d *Driver) synthesize(text string) error {
	conn, err := d.ensureConn()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	body, err := json.Marshal(d.buildBody(text))
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	frame, err := buildRequest(body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), responseTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		d.teardown()
		return fmt.Errorf("write request: %w", err)
	}

	for {
		readCtx, readCancel := context.WithTimeout(context.Background(), responseTimeout)
		_, msg, err := conn.Read(readCtx)
		readCancel()
		if err != nil {
			d.teardown()
			return fmt.Errorf("read response: %w", err)
		}

		audio, done, err := parseMessage(msg)
		if err != nil {
			return err
		}
		if len(audio) > 0 && d.active.Load() {
			d.deliver(audio)
		}
		if done {
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

func (d *Driver) ensureConn() (*websocket.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return d.conn, nil
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer; "+d.token)

	ctx, cancel := context.WithTimeout(context.Background(), responseTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, d.url, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, err
	}
	d.conn = conn
	return conn, nil
}

func (d *Driver) teardown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		d.conn.Close(websocket.StatusNormalClosure, "synthesis closed")
		d.conn = nil
	}
}
