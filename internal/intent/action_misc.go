package intent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
)

// The handlers below never short-circuit. Each composes a prompt packet
// embedding the current time, the utterance, and any looked-up data, and
// lets the generation turn stream the spoken reply.

// promptPacket is the shared packet shape for streaming handlers.
func promptPacket(req Request, dataLabel, data string) string {
	packet := fmt.Sprintf("Current time: %s\nInput: %s\n", formattedDate(req.Now), req.Text)
	if dataLabel != "" {
		packet += fmt.Sprintf("%s: %s\n", dataLabel, data)
	}
	return packet + "Generate a relevant response considering:\n- Previous conversation history\n- Related data"
}

// ─── weather ───

// WeatherAPI looks up a spoken-form weather summary for a location query.
type WeatherAPI interface {
	Lookup(ctx context.Context, query string) (string, error)
}

const (
	weatherUnavailable = "Unable to obtain weather information temporarily"
	weatherNoLocation  = "City information not obtained, weather information temporarily unavailable"
)

// WeatherAction composes a weather report packet from live API data.
type WeatherAction struct {
	api    WeatherAPI
	logger *slog.Logger
}

var _ Action = (*WeatherAction)(nil)

// NewWeatherAction builds the weather handler. A nil api reports data as
// unavailable and lets the model say so.
func NewWeatherAction(api WeatherAPI) *WeatherAction {
	return &WeatherAction{api: api, logger: slog.Default()}
}

// Name implements Action.
func (a *WeatherAction) Name() string { return IntentWeather }

// SystemPrompt implements Action.
func (a *WeatherAction) SystemPrompt() string { return weatherPrompt }

// Process implements Action.
func (a *WeatherAction) Process(ctx context.Context, req Request) (ActionResult, error) {
	data := a.lookup(ctx, req.Content)
	return ActionResult{UserPrompt: promptPacket(req, "Weather API data", data)}, nil
}

func (a *WeatherAction) lookup(ctx context.Context, location string) string {
	if location == "" || location == "unknown" {
		return weatherNoLocation
	}
	if a.api == nil {
		return weatherUnavailable
	}
	data, err := a.api.Lookup(ctx, location)
	if err != nil {
		a.logger.Error("weather lookup failed", "location", location, "error", err)
		return weatherUnavailable
	}
	return data
}

// ─── news ───

// NewsAPI looks up a spoken-form news digest for a topic query.
type NewsAPI interface {
	Lookup(ctx context.Context, topic string) (string, error)
}

const newsUnavailable = "Unable to obtain news information temporarily"

// NewsAction composes a news broadcast packet.
type NewsAction struct {
	api    NewsAPI
	logger *slog.Logger
}

var _ Action = (*NewsAction)(nil)

// NewNewsAction builds the news handler. A nil api reports data as
// unavailable.
func NewNewsAction(api NewsAPI) *NewsAction {
	return &NewsAction{api: api, logger: slog.Default()}
}

// Name implements Action.
func (a *NewsAction) Name() string { return IntentNews }

// SystemPrompt implements Action.
func (a *NewsAction) SystemPrompt() string { return newsPrompt }

// Process implements Action.
func (a *NewsAction) Process(ctx context.Context, req Request) (ActionResult, error) {
	news := newsUnavailable
	if a.api != nil {
		if data, err := a.api.Lookup(ctx, req.Content); err == nil {
			news = data
		} else {
			a.logger.Error("news lookup failed", "topic", req.Content, "error", err)
		}
	}
	return ActionResult{UserPrompt: promptPacket(req, "News API data", news)}, nil
}

// ─── story ───

// StoryAction composes a storytelling packet.
type StoryAction struct{}

var _ Action = (*StoryAction)(nil)

// NewStoryAction builds the story handler.
func NewStoryAction() *StoryAction { return &StoryAction{} }

// Name implements Action.
func (a *StoryAction) Name() string { return IntentStory }

// SystemPrompt implements Action.
func (a *StoryAction) SystemPrompt() string { return storyPrompt }

// Process implements Action.
func (a *StoryAction) Process(ctx context.Context, req Request) (ActionResult, error) {
	if req.Content != "" && req.Content != "unknown" {
		req.Text = fmt.Sprintf("Please tell the story of '%s'", req.Content)
	}
	return ActionResult{UserPrompt: promptPacket(req, "", "")}, nil
}

// ─── joke ───

// jokeTopics seeds a topic when none is requested.
var jokeTopics = []string{
	"programmer", "doctor", "lawyer", "teacher", "police officer", "chef", "farmer",
	"scientist", "artist", "driver", "construction worker", "firefighter", "pilot",
	"astronaut", "journalist", "accountant",
	"math", "physics", "chemistry", "biology", "history", "geography", "philosophy",
	"family", "school", "marriage", "parenting", "fitness", "shopping", "cooking", "pets",
	"movies", "music", "video games", "sports", "anime", "TV shows", "memes",
	"AI", "big data", "smartphones", "electric cars", "robots",
	"puns", "dad jokes", "riddles", "anti-jokes",
	"aliens", "superheroes", "wizards", "time travel", "parallel universe",
	"Christmas", "Halloween", "summer", "winter", "rainy days", "snow days",
	"brain teasers", "witty comebacks", "funny ads",
}

// JokeAction composes a joke packet, picking a random topic when none is
// requested.
type JokeAction struct{}

var _ Action = (*JokeAction)(nil)

// NewJokeAction builds the joke handler.
func NewJokeAction() *JokeAction { return &JokeAction{} }

// Name implements Action.
func (a *JokeAction) Name() string { return IntentJoke }

// SystemPrompt implements Action.
func (a *JokeAction) SystemPrompt() string { return jokePrompt }

// Process implements Action.
func (a *JokeAction) Process(ctx context.Context, req Request) (ActionResult, error) {
	if req.Content == "" || req.Content == "unknown" {
		topic := jokeTopics[rand.Intn(len(jokeTopics))]
		req.Text = fmt.Sprintf("Please tell me a joke about '%s'", topic)
	}
	return ActionResult{UserPrompt: promptPacket(req, "", "")}, nil
}

// ─── chat ───

// ChatAction is the default handler for everything outside the tool
// intents.
type ChatAction struct{}

var _ Action = (*ChatAction)(nil)

// NewChatAction builds the chat handler.
func NewChatAction() *ChatAction { return &ChatAction{} }

// Name implements Action.
func (a *ChatAction) Name() string { return IntentChat }

// SystemPrompt implements Action.
func (a *ChatAction) SystemPrompt() string { return chatPrompt }

// Process implements Action.
func (a *ChatAction) Process(ctx context.Context, req Request) (ActionResult, error) {
	return ActionResult{UserPrompt: promptPacket(req, "", "")}, nil
}
