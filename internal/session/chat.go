package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"

	"github.com/voxgatehq/voxgate/internal/devstate"
	"github.com/voxgatehq/voxgate/internal/intent"
	"github.com/voxgatehq/voxgate/internal/wire"
	"github.com/voxgatehq/voxgate/pkg/provider/asr"
	"github.com/voxgatehq/voxgate/pkg/provider/llm"
)

// onChatUpdate switches the session into full dialogue mode: it wires the
// recognition and synthesis callbacks onto the outbound queue, primes VAD
// and ASR for the first utterance, applies the chat config, and acknowledges
// with chat.updated.
func (s *Session) onChatUpdate(ctx context.Context, ev wire.Event) error {
	switch {
	case s.vadEngine == nil:
		return s.resourceUnavailable("vad")
	case s.asrDriver == nil:
		return s.resourceUnavailable("asr")
	case s.ttsDriver == nil:
		return s.resourceUnavailable("tts")
	case s.llmClient == nil:
		return s.resourceUnavailable("llm")
	}

	data, err := parseUpdate(ev)
	if err != nil {
		s.clientError(err.Error())
		return nil
	}
	s.setMode(ModeChat, updateLanguage(data))

	s.registerChatCallbacks()

	var startErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		startErr = s.asrDriver.StreamStart(ctx)
	}()
	s.vadEngine.Reset()
	wg.Wait()
	if startErr != nil {
		s.providerError("asr stream start", startErr)
		return nil
	}

	s.applyChatConfig(ctx, data.ChatConfig)

	s.sendNew(wire.EventChatUpdated, wire.ChatUpdateData{})
	return nil
}

// applyChatConfig pushes conversation id and device parameters into the
// device repository. Failures are logged; the update still acknowledges.
func (s *Session) applyChatConfig(ctx context.Context, cfg wire.ChatConfig) {
	if s.repo == nil {
		return
	}
	if cfg.ConversationID != "" {
		err := s.repo.SetFields(ctx, map[string]any{devstate.FieldConversationID: cfg.ConversationID})
		if err != nil {
			s.logger.Warn("conversation id update failed", "error", err)
		}
	}
	if len(cfg.Parameters) > 0 {
		if err := s.repo.SetFields(ctx, cfg.Parameters); err != nil {
			s.logger.Warn("device parameters update failed", "error", err)
		}
	}
}

// registerChatCallbacks binds the ASR and TTS callbacks for dialogue mode.
// The final transcript callback launches the generation turn on its own
// goroutine so the read loop stays responsive to cancel frames.
func (s *Session) registerChatCallbacks() {
	s.asrDriver.SetCallbacks(
		func(text string) {
			s.sendNew(wire.EventAudioTranscriptUpdate, wire.ContentData{Content: text})
		},
		func(text string) {
			s.sendNew(wire.EventAudioTranscriptCompleted, wire.ContentData{Content: text})
			s.startTurn(text)
		},
	)

	s.ttsDriver.SetCallback(func(chunk []byte) {
		if len(chunk) == 0 {
			s.sendNew(wire.EventAudioCompleted, nil)
			s.sendNew(wire.EventConversationChatCompleted, nil)
			return
		}
		s.sendNew(wire.EventAudioDelta, wire.AudioDelta(base64.StdEncoding.EncodeToString(chunk)))
	})
}

// onAudioAppend feeds one client frame to VAD and ASR in parallel. A VAD
// state flip emits the mode-appropriate vad event.
func (s *Session) onAudioAppend(ctx context.Context, ev wire.Event) error {
	mode := s.Mode()
	if mode != ModeChat && mode != ModeTranscriptions {
		s.clientError("input_audio_buffer.append before chat.update")
		return nil
	}

	var data wire.DeltaData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		s.clientError("decode input_audio_buffer.append payload: " + err.Error())
		return nil
	}
	frame, err := base64.StdEncoding.DecodeString(data.Delta)
	if err != nil {
		s.clientError("audio delta is not valid base64")
		return nil
	}

	var (
		asrErr error
		wg     sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		asrErr = s.asrDriver.StreamAppend(ctx, frame)
	}()
	changed, vadErr := s.vadEngine.ProcessFrame(frame)
	wg.Wait()

	if vadErr != nil {
		s.clientError("vad frame rejected: " + vadErr.Error())
	}
	switch {
	case asrErr == nil:
	case errors.Is(asrErr, asr.ErrNotStreaming):
		s.clientError("input_audio_buffer.append outside an open utterance")
	default:
		s.providerError("asr stream append", asrErr)
	}

	if changed {
		vadEvent := wire.EventAudioTranscriptVAD
		if mode == ModeTranscriptions {
			vadEvent = wire.EventTranscriptionsVAD
		}
		s.sendNew(vadEvent, wire.ContentData{Content: s.vadEngine.SpeechActive()})
	}
	return nil
}

// onAudioComplete finalizes the open recognition request. The final
// transcript callback fires inside StreamFinish.
func (s *Session) onAudioComplete(ctx context.Context) error {
	mode := s.Mode()
	if mode != ModeChat && mode != ModeTranscriptions {
		s.clientError("input_audio_buffer.complete before chat.update")
		return nil
	}

	switch err := s.asrDriver.StreamFinish(ctx); {
	case err == nil:
	case errors.Is(err, asr.ErrNotStreaming):
		s.clientError("input_audio_buffer.complete without an open utterance")
	default:
		s.providerError("asr stream finish", err)
	}
	return nil
}

// onChatCancel interrupts the in-flight generation turn.
func (s *Session) onChatCancel() error {
	if s.llmClient == nil {
		return s.resourceUnavailable("llm")
	}
	s.llmClient.Stop()
	return nil
}

// startTurn runs one generation turn in the background.
func (s *Session) startTurn(text string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runChatTurn(s.ctx, text)
	}()
}

// runChatTurn takes a final transcript through intent detection and either
// the short-circuit command path or the streaming generation path. The audio
// url token is emitted first so the client can begin its HTTP pull before
// synthesis starts.
func (s *Session) runChatTurn(ctx context.Context, text string) {
	requestID := s.ttsDriver.Cache().CreateRequest()
	s.sendNew(wire.EventAudioURL, wire.ContentData{Content: s.uid + "." + requestID})

	intention, err := s.detector.Detect(ctx, text, s.repo)
	if err != nil {
		s.logger.Error("intent detection failed", "error", err)
		s.sendNew(wire.EventConversationChatCanceled, nil)
		return
	}

	if intention.ShortCircuit() {
		if err := s.ttsDriver.Query(ctx, intention.UserPrompt, true); err != nil {
			s.logger.Error("tts query failed", "error", err)
		}
		s.sendNew(wire.EventMessageCompleted, wire.AssistantAnswer(intention.UserPrompt, intention.MetaData))
		s.llmClient.Memory().Append(text, intention.UserPrompt)
		return
	}

	s.streamReply(ctx, text, intention)
}

// streamReply drives one streaming generation: tokens become message
// deltas, sentence chunks feed the synthesizer, and the full reply closes
// the message. A stop or provider failure aborts the turn with
// conversation.chat.canceled.
func (s *Session) streamReply(ctx context.Context, text string, intention intent.Intention) {
	s.mu.Lock()
	language := s.language
	s.mu.Unlock()

	err := s.llmClient.QueryStream(ctx, llm.StreamRequest{
		Text:         text,
		UserPrompt:   intention.UserPrompt,
		SystemPrompt: intention.SystemPrompt,
		Language:     language,
	}, llm.StreamHooks{
		OnText: func(token string) {
			s.sendNew(wire.EventMessageDelta, wire.AssistantAnswer(token, nil))
		},
		OnChunk: func(chunk string, isFinal bool) {
			if err := s.ttsDriver.Query(ctx, chunk, isFinal); err != nil {
				s.logger.Error("tts query failed", "error", err)
			}
		},
		OnFinish: func(full string) {
			s.sendNew(wire.EventMessageCompleted, wire.AssistantAnswer(full, nil))
		},
	})

	switch {
	case err == nil:
	case errors.Is(err, llm.ErrStopped), errors.Is(err, context.Canceled):
		s.sendNew(wire.EventConversationChatCanceled, nil)
	default:
		s.logger.Error("generation stream failed", "error", err)
		s.sendNew(wire.EventConversationChatCanceled, nil)
	}
}
