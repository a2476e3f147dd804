package session

import (
	"context"

	"github.com/voxgatehq/voxgate/internal/wire"
)

// onTranscriptionsUpdate switches the session into recognition-only mode:
// audio arrives over the socket, transcripts leave as
// transcriptions.message.* events and no generation turn runs.
func (s *Session) onTranscriptionsUpdate(ctx context.Context) error {
	switch {
	case s.vadEngine == nil:
		return s.resourceUnavailable("vad")
	case s.asrDriver == nil:
		return s.resourceUnavailable("asr")
	}

	s.setMode(ModeTranscriptions, "")

	s.asrDriver.SetCallbacks(
		func(text string) {
			s.sendNew(wire.EventTranscriptionsMessageUpdate, wire.ContentData{Content: text})
		},
		func(text string) {
			s.sendNew(wire.EventTranscriptionsMessageUpdate, wire.ContentData{Content: text})
			s.sendNew(wire.EventTranscriptionsMessageCompleted, nil)
		},
	)

	if err := s.asrDriver.StreamStart(ctx); err != nil {
		s.providerError("asr stream start", err)
	}
	return nil
}
