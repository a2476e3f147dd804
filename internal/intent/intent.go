// Package intent classifies user utterances into a closed intent set and
// dispatches them to per-intent action handlers. Classification is a single
// lite-model call whose reply must match the strict "intent: content"
// grammar; anything else degrades to the chat handler with the raw reply as
// content.
//
// Handlers either short-circuit the dialogue by returning a structured
// Command (alarm, control, music) or compose a prompt packet for the
// streaming generation turn (weather, news, story, joke, chat).
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/voxgatehq/voxgate/internal/devstate"
	"github.com/voxgatehq/voxgate/internal/wire"
	"github.com/voxgatehq/voxgate/pkg/provider/llm"
)

// Intent names understood by the recognizer.
const (
	IntentWeather = "weather"
	IntentNews    = "news"
	IntentMusic   = "music"
	IntentStory   = "story"
	IntentJoke    = "joke"
	IntentAlarm   = "alarm"
	IntentControl = "control"
	IntentChat    = "chat"
)

// slowActionThreshold is the handler latency above which a warning is logged.
const slowActionThreshold = time.Second

// Intention is the normalized outcome of one classification pass.
type Intention struct {
	// Intent is the resolved intent name.
	Intent string

	// Content is the parameter portion of the classifier reply, or the raw
	// reply when the grammar did not match.
	Content string

	// UserPrompt is what the generation turn should send to the model, or
	// what the TTS should speak verbatim when MetaData is set.
	UserPrompt string

	// SystemPrompt is the per-intent system instruction for the generation
	// turn.
	SystemPrompt string

	// MetaData, when non-nil, short-circuits the dialogue: no streaming
	// generation happens and the command is attached to the assistant
	// message.
	MetaData *wire.Command
}

// ShortCircuit reports whether the dialogue skips the streaming generation
// turn.
func (i Intention) ShortCircuit() bool { return i.MetaData != nil }

// ActionResult is what a handler produces.
type ActionResult struct {
	UserPrompt string
	MetaData   *wire.Command
}

// Request carries one utterance into a handler.
type Request struct {
	// Text is the raw user utterance.
	Text string

	// Content is the classifier-extracted parameter string.
	Content string

	// Now is the wall-clock instant of the turn.
	Now time.Time

	// Repo is the device state view of the speaking device. May be nil for
	// handlers that do not touch device state.
	Repo *devstate.Repository
}

// Action handles one intent.
type Action interface {
	// Name is the canonical intent name.
	Name() string

	// SystemPrompt is the system instruction attached to the resulting
	// Intention for the generation turn.
	SystemPrompt() string

	// Process executes the handler.
	Process(ctx context.Context, req Request) (ActionResult, error)
}

// ─── recognizer ───

// intentPattern matches "intent: content" with tolerance for surrounding
// quotes, full-width colons, and pipe separators. Multi-line replies never
// match and degrade to chat.
var intentPattern = regexp.MustCompile(`^\s*(?:"|')?([^:：|]+?)(?:"|')?\s*[:：|]\s*(?:"|')?(.*?)(?:"|')?\s*$`)

// Recognizer is the two-stage intent pipeline. Safe for concurrent use once
// constructed.
type Recognizer struct {
	llm     *llm.Client
	logger  *slog.Logger
	clock   func() time.Time
	actions map[string]Action
	chat    Action
}

// Option is a functional option for NewRecognizer.
type Option func(*Recognizer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recognizer) { r.logger = logger }
}

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(r *Recognizer) { r.clock = clock }
}

// WithMusicCatalog sets the music catalog backing the music handler.
func WithMusicCatalog(catalog MusicCatalog) Option {
	return func(r *Recognizer) {
		r.actions[IntentMusic] = NewMusicAction(catalog)
	}
}

// WithWeatherAPI sets the weather lookup backing the weather handler.
func WithWeatherAPI(api WeatherAPI) Option {
	return func(r *Recognizer) {
		r.actions[IntentWeather] = NewWeatherAction(api)
	}
}

// WithAction installs or replaces a handler. Useful for tests.
func WithAction(a Action) Option {
	return func(r *Recognizer) { r.actions[a.Name()] = a }
}

// NewRecognizer builds a recognizer with the full handler registry over the
// given LLM client.
func NewRecognizer(client *llm.Client, opts ...Option) *Recognizer {
	r := &Recognizer{
		llm:    client,
		logger: slog.Default(),
		clock:  time.Now,
		chat:   NewChatAction(),
	}
	r.actions = map[string]Action{
		IntentWeather: NewWeatherAction(nil),
		IntentNews:    NewNewsAction(nil),
		IntentMusic:   NewMusicAction(nil),
		IntentStory:   NewStoryAction(),
		IntentJoke:    NewJokeAction(),
		IntentAlarm:   NewAlarmAction(client),
		IntentControl: NewControlAction(client),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Detect classifies text and runs the matching handler. A handler failure is
// not fatal: the turn degrades to a plain generation turn echoing the user
// text, so the dialogue always moves forward. Only the classification call
// itself can fail.
func (r *Recognizer) Detect(ctx context.Context, text string, repo *devstate.Repository) (Intention, error) {
	reply, err := r.llm.Query(ctx, llm.SlotLite, text, classifyPrompt, true)
	if err != nil {
		return Intention{}, fmt.Errorf("intent: classify %q: %w", text, err)
	}

	name, content := ExtractIntentContent(reply)
	action := r.resolve(name)
	r.logger.Debug("intent classified",
		"text", text, "reply", reply, "intent", action.Name(), "content", content)

	req := Request{Text: text, Content: content, Now: r.clock(), Repo: repo}

	start := time.Now()
	result, err := action.Process(ctx, req)
	elapsed := time.Since(start)

	level := slog.LevelDebug
	if elapsed > slowActionThreshold {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "intent action executed",
		"action", action.Name(), "input", truncate(text, 20), "elapsed", elapsed)

	if err != nil {
		r.logger.Warn("intent action failed",
			"action", action.Name(), "text", text, "error", err)
		return Intention{
			Intent:     action.Name(),
			Content:    content,
			UserPrompt: text,
		}, nil
	}

	return Intention{
		Intent:       action.Name(),
		Content:      content,
		UserPrompt:   result.UserPrompt,
		SystemPrompt: action.SystemPrompt(),
		MetaData:     result.MetaData,
	}, nil
}

// resolve maps a classifier-produced intent name to its handler. Names
// within edit distance 1 of a registered intent are accepted; everything
// else falls back to chat.
func (r *Recognizer) resolve(name string) Action {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return r.chat
	}
	if a, ok := r.actions[name]; ok {
		return a
	}

	var best Action
	for registered, a := range r.actions {
		if matchr.DamerauLevenshtein(name, registered) <= 1 {
			best = a
			break
		}
	}
	if best != nil {
		return best
	}
	return r.chat
}

// ExtractIntentContent splits a classifier reply into (intent, content). A
// reply that does not match the grammar yields an empty intent and the
// trimmed raw reply as content.
func ExtractIntentContent(reply string) (string, string) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", ""
	}
	m := intentPattern.FindStringSubmatch(reply)
	if m == nil {
		return "", reply
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
}

// truncate clips s to at most n runes for log lines.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// formattedDate renders the multi-line time context embedded in prompt
// packets.
func formattedDate(now time.Time) string {
	_, week := now.ISOWeek()
	return fmt.Sprintf(
		"Timezone: %s\nDate: %s, %s %d, %d\nTime: %s\nWeek: %d",
		now.Location().String(),
		now.Weekday().String(),
		now.Month().String(), now.Day(), now.Year(),
		now.Format("15:04:05"),
		week,
	)
}
