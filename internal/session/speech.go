package session

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/voxgatehq/voxgate/internal/wire"
)

// onSpeechUpdate switches the session into synthesis-only mode: text arrives
// over the socket, audio leaves as speech.audio.* events plus the cache pull
// token.
func (s *Session) onSpeechUpdate(ev wire.Event) error {
	if s.ttsDriver == nil {
		return s.resourceUnavailable("tts")
	}

	data, err := parseUpdate(ev)
	if err != nil {
		s.clientError(err.Error())
		return nil
	}
	s.setMode(ModeSpeech, updateLanguage(data))

	s.ttsDriver.SetCallback(func(chunk []byte) {
		if len(chunk) == 0 {
			s.sendNew(wire.EventSpeechAudioCompleted, nil)
			return
		}
		s.sendNew(wire.EventSpeechAudioUpdate, wire.AudioDelta(base64.StdEncoding.EncodeToString(chunk)))
	})

	requestID := s.ttsDriver.Cache().CreateRequest()
	s.sendNew(wire.EventSpeechAudioURL, wire.ContentData{Content: s.uid + "." + requestID})
	return nil
}

// onInputTextAppend feeds one text fragment to the synthesizer.
func (s *Session) onInputTextAppend(ctx context.Context, ev wire.Event) error {
	if s.Mode() != ModeSpeech {
		s.clientError("input_text_buffer.append before speech.update")
		return nil
	}

	var data wire.DeltaData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		s.clientError("decode input_text_buffer.append payload: " + err.Error())
		return nil
	}
	if err := s.ttsDriver.Query(ctx, data.Delta, false); err != nil {
		s.providerError("tts query", err)
	}
	return nil
}

// onInputTextComplete closes the utterance; the synthesizer delivers the
// end-of-audio sentinel once queued subtasks drain.
func (s *Session) onInputTextComplete(ctx context.Context) error {
	if s.Mode() != ModeSpeech {
		s.clientError("input_text_buffer.complete before speech.update")
		return nil
	}
	if err := s.ttsDriver.Query(ctx, "", true); err != nil {
		s.providerError("tts query", err)
	}
	return nil
}
