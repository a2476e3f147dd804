// Package httpapi serves the audio HTTP endpoints that sit beside the
// WebSocket gateway.
//
// Two routes exist. The pull endpoint streams the audio of an in-flight or
// recent synthesis request, identified by the "<uid>.<request_id>" token a
// client received in a conversation.audio.url event. The upload endpoint
// synthesizes a standalone text, wraps raw PCM into a WAV file, puts it into
// object storage, and returns the public URL.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voxgatehq/voxgate/pkg/audio"
	"github.com/voxgatehq/voxgate/pkg/provider/tts"
)

// outputSampleRate is the PCM rate of synthesized audio.
const outputSampleRate = 24000

// synthesisTimeout bounds one text_to_speech synthesis round trip.
const synthesisTimeout = 60 * time.Second

// Content types the handlers produce or recognize.
const (
	ContentTypeWAV = "audio/wav"
	ContentTypeMP3 = "audio/mpeg"
	ContentTypePCM = "audio/pcm"
)

// CacheResolver maps a device uid to the audio cache of its live session.
// A nil return means the uid has no session on this node.
type CacheResolver interface {
	TTSCache(uid string) *tts.Cache
}

// Synthesizer renders one complete text into audio. contentType is
// [ContentTypePCM] for raw 16-bit mono PCM or [ContentTypeMP3] for an
// encoded passthrough.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (data []byte, contentType string, err error)
}

// SpeechUploader stores one synthesized file and returns its public URL.
// Satisfied by *storage.Uploader.
type SpeechUploader interface {
	UploadSpeech(ctx context.Context, uid string, data []byte, contentType string, retain bool) (string, error)
}

// Handler serves the audio endpoints. Synthesizer and uploader are optional;
// the upload endpoint reports 503 while either is absent.
type Handler struct {
	resolver CacheResolver
	synth    Synthesizer
	uploader SpeechUploader
	logger   *slog.Logger
}

// Option is a functional option for New.
type Option func(*Handler)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithSynthesizer enables the text_to_speech endpoint's synthesis step.
func WithSynthesizer(s Synthesizer) Option {
	return func(h *Handler) { h.synth = s }
}

// WithUploader enables the text_to_speech endpoint's storage step.
func WithUploader(u SpeechUploader) Option {
	return func(h *Handler) { h.uploader = u }
}

// New creates a Handler over the given session cache resolver.
func New(resolver CacheResolver, opts ...Option) (*Handler, error) {
	if resolver == nil {
		return nil, fmt.Errorf("httpapi: resolver must not be nil")
	}
	h := &Handler{resolver: resolver}
	for _, o := range opts {
		o(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "httpapi")
	return h, nil
}

// Register adds the audio routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/vce/coze/chat/tts", h.PullAudio)
	mux.HandleFunc("POST /api/v1/vce/coze/audio/text_to_speech", h.TextToSpeech)
}

// PullAudio streams the audio of one synthesis request. PCM output is
// prefixed with a streaming WAV header; MP3 output passes through untouched.
func (h *Handler) PullAudio(w http.ResponseWriter, r *http.Request) {
	uid, requestID, ok := splitToken(r.URL.Query().Get("token"))
	if !ok {
		http.Error(w, "token must have the form <uid>.<request_id>", http.StatusBadRequest)
		return
	}

	cache := h.resolver.TTSCache(uid)
	if cache == nil {
		http.Error(w, "no session for uid", http.StatusNotFound)
		return
	}

	stream, err := cache.StreamAudio(r.Context(), requestID)
	if err != nil {
		if errors.Is(err, tts.ErrUnknownRequest) {
			http.Error(w, "unknown request id", http.StatusNotFound)
			return
		}
		h.logger.Error("audio stream attach failed", "uid", uid, "request_id", requestID, "error", err)
		http.Error(w, "stream unavailable", http.StatusInternalServerError)
		return
	}

	// The first chunk decides the format: encoded MP3 passes through, raw
	// PCM gets the 44-byte streaming WAV header.
	first, more := <-stream
	contentType, ext := ContentTypeWAV, "wav"
	if more && isMP3(first) {
		contentType, ext = ContentTypeMP3, "mp3"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", requestID+"."+ext))
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	write := func(b []byte) bool {
		if _, err := w.Write(b); err != nil {
			h.logger.Debug("audio write aborted", "uid", uid, "request_id", requestID, "error", err)
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	if contentType == ContentTypeWAV {
		if !write(audio.WAVHeader(outputSampleRate, 0)) {
			return
		}
	}
	if more {
		if !write(first) {
			return
		}
		for chunk := range stream {
			if !write(chunk) {
				return
			}
		}
	}
}

// TextToSpeech synthesizes the query text, uploads the result, and responds
// with the object URL.
func (h *Handler) TextToSpeech(w http.ResponseWriter, r *http.Request) {
	if h.synth == nil || h.uploader == nil {
		http.Error(w, "text to speech is not configured", http.StatusServiceUnavailable)
		return
	}

	q := r.URL.Query()
	text := q.Get("text")
	if text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	uid := q.Get("uid")
	if uid == "" {
		http.Error(w, "uid is required", http.StatusBadRequest)
		return
	}
	retain := false
	if raw := q.Get("retain"); raw != "" {
		var err error
		if retain, err = strconv.ParseBool(raw); err != nil {
			http.Error(w, "retain must be a boolean", http.StatusBadRequest)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), synthesisTimeout)
	defer cancel()

	data, contentType, err := h.synth.Synthesize(ctx, text)
	if err != nil {
		h.logger.Error("synthesis failed", "uid", uid, "error", err)
		http.Error(w, "synthesis failed", http.StatusBadGateway)
		return
	}
	if contentType != ContentTypeMP3 {
		data = audio.PCMToWAV(data, outputSampleRate)
		contentType = ContentTypeWAV
	}

	url, err := h.uploader.UploadSpeech(ctx, uid, data, contentType, retain)
	if err != nil {
		h.logger.Error("speech upload failed", "uid", uid, "error", err)
		http.Error(w, "upload failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"url": url}); err != nil {
		h.logger.Error("response encode failed", "uid", uid, "error", err)
	}
}

// splitToken breaks "<uid>.<request_id>" at the last dot. Device uids may
// themselves contain dots; request ids never do.
func splitToken(token string) (uid, requestID string, ok bool) {
	i := strings.LastIndex(token, ".")
	if i <= 0 || i == len(token)-1 {
		return "", "", false
	}
	return token[:i], token[i+1:], true
}

// isMP3 reports whether b starts with an ID3 tag or an MPEG frame sync.
func isMP3(b []byte) bool {
	if len(b) >= 3 && b[0] == 'I' && b[1] == 'D' && b[2] == '3' {
		return true
	}
	return len(b) >= 2 && b[0] == 0xFF && b[1]&0xE0 == 0xE0
}
