// Package session orchestrates one client's dialogue lifecycle: it owns the
// VAD, ASR, TTS, and LLM handles acquired from shared pools, dispatches
// parsed client events, and pushes server events onto the connection's
// outbound queue.
//
// A session serves one of three endpoint modes, selected by the first update
// event it receives: full dialogue (chat.update), synthesis only
// (speech.update), or recognition only (transcriptions.update).
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxgatehq/voxgate/internal/devstate"
	"github.com/voxgatehq/voxgate/internal/gateway"
	"github.com/voxgatehq/voxgate/internal/intent"
	"github.com/voxgatehq/voxgate/internal/wire"
	"github.com/voxgatehq/voxgate/pkg/pool"
	"github.com/voxgatehq/voxgate/pkg/provider/asr"
	"github.com/voxgatehq/voxgate/pkg/provider/llm"
	"github.com/voxgatehq/voxgate/pkg/provider/tts"
	"github.com/voxgatehq/voxgate/pkg/provider/vad"
)

// acquireTimeout bounds handle acquisition during session construction.
const acquireTimeout = 10 * time.Second

// defaultLanguage tags generated text for sentence chunking until an update
// event overrides it.
const defaultLanguage = "en-US"

// Error event codes.
const (
	codeClientViolation     = 400
	codeProviderError       = 502
	codeResourceUnavailable = 503
)

// Mode identifies which endpoint flavor a session is serving.
type Mode int

const (
	// ModeNone is the state before any update event arrived.
	ModeNone Mode = iota

	// ModeChat is the full dialogue pipeline.
	ModeChat

	// ModeSpeech is synthesis only.
	ModeSpeech

	// ModeTranscriptions is recognition only.
	ModeTranscriptions
)

// Emitter delivers one server event to the client's outbound queue.
type Emitter func(ev wire.Event) error

// IntentDetector classifies a final transcript into an Intention. Satisfied
// by *intent.Recognizer.
type IntentDetector interface {
	Detect(ctx context.Context, text string, repo *devstate.Repository) (intent.Intention, error)
}

// Pools holds the shared provider pools sessions draw their handles from.
// A nil pool leaves the corresponding slot empty; operations needing it
// report resource-unavailable errors.
type Pools struct {
	VAD *pool.Pool[vad.Engine]
	ASR *pool.Pool[asr.Driver]
	TTS *pool.Pool[tts.Driver]
	LLM *pool.Pool[*llm.Client]
}

// Session drives one client's dialogue turns. It implements
// gateway.Session.
//
// HandleEvent is called sequentially by the connection's read loop; the
// generation turn triggered by a final transcript runs on its own goroutine
// so that a conversation.chat.cancel frame can interrupt it.
type Session struct {
	uid    string
	logger *slog.Logger
	emit   Emitter

	vadEngine vad.Engine
	asrDriver asr.Driver
	ttsDriver tts.Driver
	llmClient *llm.Client

	pools    Pools
	repo     *devstate.Repository
	detector IntentDetector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once

	mu       sync.Mutex
	mode     Mode
	language string
}

var _ gateway.Session = (*Session)(nil)

// Option is a functional option for New.
type Option func(*Session)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithLanguage sets the initial chunking language.
func WithLanguage(lang string) Option {
	return func(s *Session) { s.language = lang }
}

// WithDetector injects a pre-built intent detector instead of constructing
// a recognizer over the session's LLM handle.
func WithDetector(d IntentDetector) Option {
	return func(s *Session) { s.detector = d }
}

// New builds a session for uid: the four provider handles are acquired
// concurrently, and a failed acquisition leaves its slot empty rather than
// failing the session.
func New(uid string, emit Emitter, pools Pools, repo *devstate.Repository, opts ...Option) *Session {
	s := &Session{
		uid:      uid,
		logger:   slog.Default(),
		emit:     emit,
		pools:    pools,
		repo:     repo,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "session", "uid", uid)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.acquireHandles()

	if s.detector == nil && s.llmClient != nil {
		s.detector = intent.NewRecognizer(s.llmClient, intent.WithLogger(s.logger))
	}
	return s
}

// acquireHandles draws all four provider handles in parallel.
func (s *Session) acquireHandles() {
	ctx, cancel := context.WithTimeout(context.Background(), acquireTimeout)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		if s.pools.VAD == nil {
			return
		}
		engine, err := s.pools.VAD.Acquire(ctx)
		if err != nil {
			s.logger.Error("vad acquire failed", "error", err)
			return
		}
		s.vadEngine = engine
	}()
	go func() {
		defer wg.Done()
		if s.pools.ASR == nil {
			return
		}
		driver, err := s.pools.ASR.Acquire(ctx)
		if err != nil {
			s.logger.Error("asr acquire failed", "error", err)
			return
		}
		s.asrDriver = driver
	}()
	go func() {
		defer wg.Done()
		if s.pools.TTS == nil {
			return
		}
		driver, err := s.pools.TTS.Acquire(ctx)
		if err != nil {
			s.logger.Error("tts acquire failed", "error", err)
			return
		}
		s.ttsDriver = driver
	}()
	go func() {
		defer wg.Done()
		if s.pools.LLM == nil {
			return
		}
		client, err := s.pools.LLM.Acquire(ctx)
		if err != nil {
			s.logger.Error("llm acquire failed", "error", err)
			return
		}
		s.llmClient = client
	}()
	wg.Wait()
}

// UID returns the client identifier.
func (s *Session) UID() string { return s.uid }

// TTSCache exposes the audio cache backing the HTTP pull endpoint. Nil when
// no synthesis handle was acquired.
func (s *Session) TTSCache() *tts.Cache {
	if s.ttsDriver == nil {
		return nil
	}
	return s.ttsDriver.Cache()
}

// Mode reports the endpoint mode selected by the first update event.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// HandleEvent implements gateway.Session.
func (s *Session) HandleEvent(ctx context.Context, ev wire.Event) error {
	switch ev.EventType {
	case wire.EventChatUpdate:
		return s.onChatUpdate(ctx, ev)
	case wire.EventInputAudioAppend:
		return s.onAudioAppend(ctx, ev)
	case wire.EventInputAudioComplete:
		return s.onAudioComplete(ctx)
	case wire.EventChatCancel:
		return s.onChatCancel()
	case wire.EventChatSubmitToolOutput, wire.EventMessageCreate:
		// Accepted for protocol compatibility; no server-side behavior.
		return nil
	case wire.EventSpeechUpdate:
		return s.onSpeechUpdate(ev)
	case wire.EventInputTextAppend:
		return s.onInputTextAppend(ctx, ev)
	case wire.EventInputTextComplete:
		return s.onInputTextComplete(ctx)
	case wire.EventTranscriptionsUpdate:
		return s.onTranscriptionsUpdate(ctx)
	default:
		s.clientError(fmt.Sprintf("unsupported event type %q", ev.EventType))
		return nil
	}
}

// Close implements gateway.Session. It cancels any in-flight turn, waits for
// it to unwind, and returns all handles to their pools. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.llmClient != nil {
			s.llmClient.Stop()
		}
		if s.ttsDriver != nil {
			s.ttsDriver.Stop()
		}
		s.wg.Wait()
		s.releaseHandles()
		s.logger.Debug("session closed")
	})
	return nil
}

// releaseHandles resets each handle and pushes it back into its pool. With
// no pool configured the handle is closed outright.
func (s *Session) releaseHandles() {
	if s.vadEngine != nil {
		s.vadEngine.Reset()
		if s.pools.VAD != nil {
			s.pools.VAD.Release(s.vadEngine)
		} else {
			s.vadEngine.Close()
		}
	}
	if s.asrDriver != nil {
		s.asrDriver.Reset()
		if s.pools.ASR != nil {
			s.pools.ASR.Release(s.asrDriver)
		} else {
			s.asrDriver.Close()
		}
	}
	if s.ttsDriver != nil {
		s.ttsDriver.Reset()
		if s.pools.TTS != nil {
			s.pools.TTS.Release(s.ttsDriver)
		} else {
			s.ttsDriver.Close()
		}
	}
	if s.llmClient != nil {
		s.llmClient.Stop()
		s.llmClient.Memory().Clear()
		if s.pools.LLM != nil {
			s.pools.LLM.Release(s.llmClient)
		} else {
			s.llmClient.Close()
		}
	}
}

// ─── Shared helpers ──────────────────────────────────────────────────────────

// send enqueues one event, logging instead of failing when the connection
// has already closed. A saturated queue blocks until the sender catches up.
func (s *Session) send(ev wire.Event) {
	if err := s.emit(ev); err != nil {
		s.logger.Error("outbound enqueue failed", "event_type", ev.EventType, "error", err)
	}
}

// sendNew builds and enqueues a server event.
func (s *Session) sendNew(t wire.EventType, data any) {
	ev, err := wire.New(t, data)
	if err != nil {
		s.logger.Error("event build failed", "event_type", t, "error", err)
		return
	}
	s.send(ev)
}

// clientError reports a client protocol violation without ending the
// session.
func (s *Session) clientError(msg string) {
	s.logger.Warn("client violation", "msg", msg)
	s.sendNew(wire.EventError, wire.ErrorData{Code: codeClientViolation, Msg: msg})
}

// providerError reports an upstream provider failure.
func (s *Session) providerError(op string, err error) {
	s.logger.Error("provider failure", "op", op, "error", err)
	s.sendNew(wire.EventError, wire.ErrorData{Code: codeProviderError, Msg: op + ": " + err.Error()})
}

// resourceUnavailable reports a missing provider handle.
func (s *Session) resourceUnavailable(slot string) error {
	msg := slot + " unavailable"
	s.sendNew(wire.EventError, wire.ErrorData{Code: codeResourceUnavailable, Msg: msg})
	return fmt.Errorf("session: %s", msg)
}

// setMode records the endpoint mode and optional language override.
func (s *Session) setMode(mode Mode, lang string) {
	s.mu.Lock()
	s.mode = mode
	if lang != "" {
		s.language = lang
	}
	s.mu.Unlock()
}

// updateLanguage extracts the chunking language from an update payload,
// preferring the output stream's tag.
func updateLanguage(data wire.ChatUpdateData) string {
	if data.OutputAudio != nil && data.OutputAudio.Language != "" {
		return data.OutputAudio.Language
	}
	if data.InputAudio != nil && data.InputAudio.Language != "" {
		return data.InputAudio.Language
	}
	return ""
}

// parseUpdate decodes an optional update payload.
func parseUpdate(ev wire.Event) (wire.ChatUpdateData, error) {
	var data wire.ChatUpdateData
	if len(ev.Data) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return data, fmt.Errorf("session: decode %s payload: %w", ev.EventType, err)
	}
	return data, nil
}
