// Package wire defines the client-facing WebSocket protocol: the JSON event
// envelope, the closed sets of event types, message payload schemas, close
// codes, and structured command metadata.
//
// Events are JSON-framed text messages. Binary audio travels base64-encoded
// inside the payload's delta field.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// EventType discriminates the payload schema of an [Event].
type EventType string

// Client → server event types.
const (
	EventChatUpdate           EventType = "chat.update"
	EventInputAudioAppend     EventType = "input_audio_buffer.append"
	EventInputAudioComplete   EventType = "input_audio_buffer.complete"
	EventChatCancel           EventType = "conversation.chat.cancel"
	EventChatSubmitToolOutput EventType = "conversation.chat.submit_tool_outputs"
	EventMessageCreate        EventType = "conversation.message.create"
	EventSpeechUpdate         EventType = "speech.update"
	EventInputTextAppend      EventType = "input_text_buffer.append"
	EventInputTextComplete    EventType = "input_text_buffer.complete"
	EventTranscriptionsUpdate EventType = "transcriptions.update"
)

// Server → client event types.
const (
	EventChatCreated EventType = "chat.created"
	EventChatUpdated EventType = "chat.updated"

	EventConversationChatCreated        EventType = "conversation.chat.created"
	EventConversationChatInProgress     EventType = "conversation.chat.in_progress"
	EventConversationChatRequiresAction EventType = "conversation.chat.requires_action"
	EventConversationChatCompleted      EventType = "conversation.chat.completed"
	EventConversationChatCanceled       EventType = "conversation.chat.canceled"

	EventMessageDelta     EventType = "conversation.message.delta"
	EventMessageCompleted EventType = "conversation.message.completed"

	EventAudioTranscriptUpdate    EventType = "conversation.audio_transcript.update"
	EventAudioTranscriptCompleted EventType = "conversation.audio_transcript.completed"
	EventAudioTranscriptVAD       EventType = "conversation.audio_transcript.vad"

	EventAudioURL       EventType = "conversation.audio.url"
	EventAudioDelta     EventType = "conversation.audio.delta"
	EventAudioCompleted EventType = "conversation.audio.completed"

	EventInputAudioCompleted EventType = "input_audio_buffer.completed"

	EventSpeechCreated        EventType = "speech.created"
	EventSpeechAudioURL       EventType = "speech.audio.url"
	EventSpeechAudioUpdate    EventType = "speech.audio.update"
	EventSpeechAudioCompleted EventType = "speech.audio.completed"

	EventTranscriptionsCreated          EventType = "transcriptions.created"
	EventTranscriptionsVAD              EventType = "transcriptions.vad"
	EventTranscriptionsMessageUpdate    EventType = "transcriptions.message.update"
	EventTranscriptionsMessageCompleted EventType = "transcriptions.message.completed"

	EventError EventType = "error"
)

// clientEvents is the closed set of event types a client may send.
var clientEvents = map[EventType]bool{
	EventChatUpdate:           true,
	EventInputAudioAppend:     true,
	EventInputAudioComplete:   true,
	EventChatCancel:           true,
	EventChatSubmitToolOutput: true,
	EventMessageCreate:        true,
	EventSpeechUpdate:         true,
	EventInputTextAppend:      true,
	EventInputTextComplete:    true,
	EventTranscriptionsUpdate: true,
}

// IsClientEvent reports whether t is a recognised client → server event type.
func (t EventType) IsClientEvent() bool { return clientEvents[t] }

// Detail carries per-event tracing information.
type Detail struct {
	LogID string `json:"logid"`
}

// Event is the wire envelope for every message in both directions.
type Event struct {
	ID        string          `json:"id"`
	EventType EventType       `json:"event_type"`
	Detail    Detail          `json:"detail"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// New creates a server → client event with a fresh id and the given payload.
// data may be nil for payload-less events.
func New(t EventType, data any) (Event, error) {
	ev := Event{
		ID:        uuid.NewString(),
		EventType: t,
		Detail:    Detail{LogID: uuid.NewString()},
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("wire: marshal %s payload: %w", t, err)
		}
		ev.Data = raw
	}
	return ev, nil
}

// MustNew is New for payloads that cannot fail to marshal. It panics on
// error and is intended for event construction with static payload types.
func MustNew(t EventType, data any) Event {
	ev, err := New(t, data)
	if err != nil {
		panic(err)
	}
	return ev
}

// Parse decodes a raw client frame and validates its event type against the
// client event set.
func Parse(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("wire: decode event: %w", err)
	}
	if ev.EventType == "" {
		return Event{}, fmt.Errorf("wire: event_type missing")
	}
	if !ev.EventType.IsClientEvent() {
		return Event{}, fmt.Errorf("wire: unknown client event type %q", ev.EventType)
	}
	return ev, nil
}

// ─── Payload schemas ─────────────────────────────────────────────────────────

// AudioConfig describes an input or output audio stream.
type AudioConfig struct {
	Format     string `json:"format,omitempty"`
	Codec      string `json:"codec,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Language   string `json:"language,omitempty"`
	VoiceID    string `json:"voice_id,omitempty"`
	SpeechRate int    `json:"speech_rate,omitempty"`
}

// ChatConfig carries per-conversation settings from chat.update.
type ChatConfig struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

// ChatUpdateData is the payload of chat.update and speech.update.
type ChatUpdateData struct {
	ChatConfig  ChatConfig   `json:"chat_config"`
	InputAudio  *AudioConfig `json:"input_audio,omitempty"`
	OutputAudio *AudioConfig `json:"output_audio,omitempty"`
}

// DeltaData is the payload of append events and streaming deltas. For audio
// events Delta holds base64-encoded bytes.
type DeltaData struct {
	Delta string `json:"delta"`
}

// ContentData is the payload of url, vad, and transcript events.
type ContentData struct {
	Content any `json:"content"`
}

// MessageData is the payload of conversation.message.* events.
type MessageData struct {
	Role        string   `json:"role"`
	ContentType string   `json:"content_type"`
	Content     string   `json:"content"`
	MetaData    *Command `json:"meta_data,omitempty"`
}

// ErrorData is the payload of error events.
type ErrorData struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// AssistantAnswer builds a completed assistant message payload, optionally
// carrying structured command metadata.
func AssistantAnswer(content string, meta *Command) MessageData {
	return MessageData{
		Role:        "assistant",
		ContentType: "text",
		Content:     content,
		MetaData:    meta,
	}
}

// AudioDelta builds a base64 audio delta payload.
func AudioDelta(b64 string) DeltaData {
	return DeltaData{Delta: b64}
}
