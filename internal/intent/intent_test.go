package intent_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/voxgatehq/voxgate/internal/devstate"
	"github.com/voxgatehq/voxgate/internal/intent"
	"github.com/voxgatehq/voxgate/internal/wire"
	"github.com/voxgatehq/voxgate/pkg/provider/llm"
	llmmock "github.com/voxgatehq/voxgate/pkg/provider/llm/mock"
)

func newClient(lite, think *llmmock.Provider) *llm.Client {
	if lite == nil {
		lite = &llmmock.Provider{}
	}
	if think == nil {
		think = &llmmock.Provider{}
	}
	return llm.NewClient(lite, think)
}

func newRepo(t *testing.T) *devstate.Repository {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	repo, err := devstate.NewRepository("dev-1", rdb)
	if err != nil {
		t.Fatal(err)
	}
	return repo
}

func fixedClock() time.Time {
	return time.Date(2026, 8, 24, 10, 0, 0, 0, time.Local)
}

func TestExtractIntentContent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		reply   string
		intent  string
		content string
	}{
		{"weather: New York", "weather", "New York"},
		{`"music": "Bohemian Rhapsody|Queen"`, "music", "Bohemian Rhapsody|Queen"},
		{"chat：hello", "chat", "hello"},
		{"control|bluetooth_off", "control", "bluetooth_off"},
		{"  alarm :  2026-08-24T12:00:00  ", "alarm", "2026-08-24T12:00:00"},
		{"I am not sure what you mean.", "", "I am not sure what you mean."},
		{"", "", ""},
	}
	for _, c := range cases {
		gotIntent, gotContent := intent.ExtractIntentContent(c.reply)
		if gotIntent != c.intent || gotContent != c.content {
			t.Errorf("ExtractIntentContent(%q) = (%q, %q), want (%q, %q)",
				c.reply, gotIntent, gotContent, c.intent, c.content)
		}
	}
}

type scriptedWeather struct {
	data string
	err  error
}

func (w *scriptedWeather) Lookup(ctx context.Context, query string) (string, error) {
	return w.data, w.err
}

func TestDetectDispatchesWeather(t *testing.T) {
	t.Parallel()

	lite := &llmmock.Provider{
		CompleteResponses: []llm.CompletionResponse{{Content: "weather: Nanjing"}},
	}
	r := intent.NewRecognizer(newClient(lite, nil),
		intent.WithClock(fixedClock),
		intent.WithWeatherAPI(&scriptedWeather{data: "Sunny, 22 to 30 degrees"}),
	)

	got, err := r.Detect(context.Background(), "What's the weather in Nanjing?", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Intent != intent.IntentWeather || got.Content != "Nanjing" {
		t.Errorf("intent = %q content = %q", got.Intent, got.Content)
	}
	if got.ShortCircuit() {
		t.Error("weather must not short-circuit")
	}
	if !strings.Contains(got.UserPrompt, "Sunny, 22 to 30 degrees") {
		t.Errorf("user prompt missing weather data: %q", got.UserPrompt)
	}
	if !strings.Contains(got.UserPrompt, "What's the weather in Nanjing?") {
		t.Errorf("user prompt missing utterance: %q", got.UserPrompt)
	}
	if got.SystemPrompt == "" {
		t.Error("system prompt empty")
	}
}

func TestDetectToleratesNearMissIntentName(t *testing.T) {
	t.Parallel()

	lite := &llmmock.Provider{
		CompleteResponses: []llm.CompletionResponse{{Content: "wether: Paris"}},
	}
	r := intent.NewRecognizer(newClient(lite, nil), intent.WithClock(fixedClock))

	got, err := r.Detect(context.Background(), "weather in Paris", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Intent != intent.IntentWeather {
		t.Errorf("intent = %q, want weather", got.Intent)
	}
}

func TestDetectUnmatchedReplyFallsBackToChat(t *testing.T) {
	t.Parallel()

	const reply = "Nice to meet you! How can I help today?"
	lite := &llmmock.Provider{
		CompleteResponses: []llm.CompletionResponse{{Content: reply}},
	}
	r := intent.NewRecognizer(newClient(lite, nil), intent.WithClock(fixedClock))

	got, err := r.Detect(context.Background(), "hello there", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Intent != intent.IntentChat {
		t.Errorf("intent = %q, want chat", got.Intent)
	}
	if got.Content != reply {
		t.Errorf("content = %q, want raw reply", got.Content)
	}
	if got.ShortCircuit() {
		t.Error("chat must not short-circuit")
	}
}

type failingAction struct{}

func (failingAction) Name() string         { return intent.IntentNews }
func (failingAction) SystemPrompt() string { return "irrelevant" }
func (failingAction) Process(ctx context.Context, req intent.Request) (intent.ActionResult, error) {
	return intent.ActionResult{}, errors.New("upstream exploded")
}

func TestDetectActionFailureDegradesToEcho(t *testing.T) {
	t.Parallel()

	lite := &llmmock.Provider{
		CompleteResponses: []llm.CompletionResponse{{Content: "news: AI"}},
	}
	r := intent.NewRecognizer(newClient(lite, nil),
		intent.WithClock(fixedClock),
		intent.WithAction(failingAction{}),
	)

	got, err := r.Detect(context.Background(), "any AI news?", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Intent != intent.IntentNews || got.UserPrompt != "any AI news?" {
		t.Errorf("degraded intention = %+v", got)
	}
	if got.MetaData != nil || got.SystemPrompt != "" {
		t.Errorf("degraded turn must carry no metadata or system prompt: %+v", got)
	}
}

func TestDetectClassifierErrorPropagates(t *testing.T) {
	t.Parallel()

	lite := &llmmock.Provider{CompleteErr: errors.New("model offline")}
	r := intent.NewRecognizer(newClient(lite, nil), intent.WithClock(fixedClock))

	if _, err := r.Detect(context.Background(), "hello", nil); err == nil {
		t.Fatal("classifier error swallowed")
	}
}

// ─── control ───

func TestControlActionSingleCommand(t *testing.T) {
	t.Parallel()

	lite := &llmmock.Provider{CompleteResponses: []llm.CompletionResponse{
		{Content: `{"device":"volume","action":"set","value":50,"raw_input":"Set volume to 50%"}`},
	}}
	a := intent.NewControlAction(newClient(lite, nil))

	got, err := a.Process(context.Background(), intent.Request{Text: "Set volume to 50%", Now: fixedClock()})
	if err != nil {
		t.Fatal(err)
	}
	if got.UserPrompt != "Command dispatched" {
		t.Errorf("user prompt = %q", got.UserPrompt)
	}
	if got.MetaData == nil || got.MetaData.Type != wire.CommandControl || got.MetaData.Payload.Cmd != "list" {
		t.Fatalf("metadata = %+v", got.MetaData)
	}
	commands, ok := got.MetaData.Payload.Params["commands"].([]intent.ControlCommand)
	if !ok || len(commands) != 1 || commands[0].Device != "volume" {
		t.Errorf("commands = %#v", got.MetaData.Payload.Params["commands"])
	}
}

func TestControlActionInvalidDevice(t *testing.T) {
	t.Parallel()

	lite := &llmmock.Provider{CompleteResponses: []llm.CompletionResponse{
		{Content: `{"device":"invalid","action":null,"value":"invalid input","raw_input":"gibberish"}`},
	}}
	a := intent.NewControlAction(newClient(lite, nil))

	got, err := a.Process(context.Background(), intent.Request{Text: "gibberish", Now: fixedClock()})
	if err != nil {
		t.Fatal(err)
	}
	if got.UserPrompt != "invalid input" {
		t.Errorf("user prompt = %q", got.UserPrompt)
	}
	if got.MetaData == nil || got.MetaData.Payload.Cmd != "invalid" {
		t.Errorf("metadata = %+v", got.MetaData)
	}
}

func TestControlActionUnparseableReply(t *testing.T) {
	t.Parallel()

	lite := &llmmock.Provider{CompleteResponses: []llm.CompletionResponse{
		{Content: "sorry, I cannot do that"},
	}}
	a := intent.NewControlAction(newClient(lite, nil))

	got, err := a.Process(context.Background(), intent.Request{Text: "do the thing", Now: fixedClock()})
	if err != nil {
		t.Fatal(err)
	}
	if got.UserPrompt != "Command not recognized. Please try again." {
		t.Errorf("user prompt = %q", got.UserPrompt)
	}
	if got.MetaData == nil || got.MetaData.Payload.Cmd != "invalid" {
		t.Errorf("metadata = %+v", got.MetaData)
	}
}

// ─── music ───

type scriptedCatalog struct {
	tracks    []devstate.AudioTrack
	searchErr error
	qrCode    string
	qrErr     error

	lastQuery string
}

func (c *scriptedCatalog) Search(ctx context.Context, query, deviceID, clientIP string) ([]devstate.AudioTrack, error) {
	c.lastQuery = query
	return c.tracks, c.searchErr
}

func (c *scriptedCatalog) AuthQRCode(ctx context.Context, deviceID, clientIP string) (string, error) {
	return c.qrCode, c.qrErr
}

func TestMusicActionPlaysCatalogResult(t *testing.T) {
	t.Parallel()

	catalog := &scriptedCatalog{tracks: []devstate.AudioTrack{
		{SongID: 9, SongName: "Paper Lanterns", AlbumName: "Night Walks",
			Duration: 243, CoverURL: "c", StoreURL: "s"},
	}}
	a := intent.NewMusicAction(catalog)

	got, err := a.Process(context.Background(), intent.Request{
		Text: "play Paper Lanterns", Content: "Paper Lanterns|unknown",
		Now: fixedClock(), Repo: newRepo(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	if catalog.lastQuery != "Paper Lanterns" {
		t.Errorf("query = %q", catalog.lastQuery)
	}
	if got.UserPrompt != "Now playing: Paper Lanterns" {
		t.Errorf("user prompt = %q", got.UserPrompt)
	}
	if got.MetaData == nil || got.MetaData.Type != wire.CommandMusic || got.MetaData.Payload.Cmd != "play" {
		t.Errorf("metadata = %+v", got.MetaData)
	}
}

func TestMusicActionArtistFallbackQuery(t *testing.T) {
	t.Parallel()

	catalog := &scriptedCatalog{tracks: []devstate.AudioTrack{{SongName: "Hit"}}}
	a := intent.NewMusicAction(catalog)

	if _, err := a.Process(context.Background(), intent.Request{
		Content: "unknown|Queen", Now: fixedClock(),
	}); err != nil {
		t.Fatal(err)
	}
	if catalog.lastQuery != "Queen" {
		t.Errorf("query = %q, want artist", catalog.lastQuery)
	}
}

func TestMusicActionAuthRequired(t *testing.T) {
	t.Parallel()

	catalog := &scriptedCatalog{searchErr: intent.ErrMusicUnauthorized, qrCode: "qr-123"}
	a := intent.NewMusicAction(catalog)

	got, err := a.Process(context.Background(), intent.Request{
		Content: "unknown|unknown", Now: fixedClock(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.MetaData == nil || got.MetaData.Payload.Cmd != "auth" {
		t.Fatalf("metadata = %+v", got.MetaData)
	}
	if got.MetaData.Payload.Params["code"] != "qr-123" {
		t.Errorf("code = %v", got.MetaData.Payload.Params["code"])
	}
}

func TestMusicActionCatalogFailureFallsBackToDemo(t *testing.T) {
	t.Parallel()

	catalog := &scriptedCatalog{searchErr: errors.New("catalog down")}
	a := intent.NewMusicAction(catalog)

	got, err := a.Process(context.Background(), intent.Request{
		Content: "something|unknown", Now: fixedClock(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.MetaData == nil || got.MetaData.Payload.Cmd != "play" {
		t.Fatalf("metadata = %+v", got.MetaData)
	}
	if !strings.HasPrefix(got.UserPrompt, "Now playing: ") {
		t.Errorf("user prompt = %q", got.UserPrompt)
	}
}

func TestMusicActionNoResults(t *testing.T) {
	t.Parallel()

	a := intent.NewMusicAction(&scriptedCatalog{})

	got, err := a.Process(context.Background(), intent.Request{
		Content: "obscure b-side|unknown", Now: fixedClock(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.UserPrompt != "No matching resources found." {
		t.Errorf("user prompt = %q", got.UserPrompt)
	}
	if got.MetaData == nil || got.MetaData.Payload.Cmd != "invalid" {
		t.Errorf("metadata = %+v", got.MetaData)
	}
}

// ─── joke ───

func TestJokeActionPicksTopicWhenUnknown(t *testing.T) {
	t.Parallel()

	a := intent.NewJokeAction()
	got, err := a.Process(context.Background(), intent.Request{
		Text: "tell me a joke", Content: "unknown", Now: fixedClock(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.UserPrompt, "Please tell me a joke about") {
		t.Errorf("user prompt = %q", got.UserPrompt)
	}
	if got.MetaData != nil {
		t.Error("joke must not short-circuit")
	}
}
