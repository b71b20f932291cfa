package stt

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/audio"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/observability"
)

// Router dispatches complete recordings to the backend selected in Settings.
type Router struct {
	settings *config.Settings
	backends map[string]Backend
	logger   zerolog.Logger
}

// NewRouter creates a router over the given backends keyed by provider name.
// The streaming provider is served by the batch Deepgram backend when a
// complete buffer has to be transcribed.
func NewRouter(settings *config.Settings, backends map[string]Backend) *Router {
	return &Router{
		settings: settings,
		backends: backends,
		logger:   observability.ForComponent("stt"),
	}
}

func (r *Router) backendFor(provider string) (Backend, error) {
	if provider == config.STTDeepgramLive {
		provider = config.STTDeepgram
	}
	b, ok := r.backends[provider]
	if !ok || b == nil {
		return nil, apperr.Config("stt", "Unsupported STT provider: %s", provider)
	}
	return b, nil
}

// Check verifies the prerequisites of the active backend.
func (r *Router) Check(ctx context.Context) error {
	snap := r.settings.Snapshot()
	b, err := r.backendFor(snap.STTProvider)
	if err != nil {
		return err
	}
	return b.Initialize(ctx, snap)
}

// Transcribe frames buf as canonical WAV, boosts quiet audio and runs the
// active backend. Settings are read once at the start of the call.
func (r *Router) Transcribe(ctx context.Context, buf []byte) (string, error) {
	snap := r.settings.Snapshot()
	b, err := r.backendFor(snap.STTProvider)
	if err != nil {
		return "", err
	}
	logger := observability.WithCorrelationID(r.logger, "").With().Str("provider", b.Name()).Logger()

	if err := b.Initialize(ctx, snap); err != nil {
		observability.RecordError(apperr.KindOf(err).String(), "stt")
		return "", err
	}

	framed := audio.NormalizeGain(audio.EnsureWAVHeader(buf))
	duration := audio.Duration(framed)

	start := time.Now()
	text, err := b.Transcribe(ctx, framed, snap)
	observability.ObserveSTT(b.Name(), start, err)
	if err != nil {
		observability.RecordError(apperr.KindOf(err).String(), "stt")
		logger.Error().Err(err).Float64("duration_sec", duration).Msg("Transcription failed")
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		ev := logger.Warn().Float64("duration_sec", duration)
		if audio.ContainsSpeech(framed, 10) {
			ev = ev.Bool("speech_detected", true)
		}
		ev.Msg("Transcription is empty")
	} else {
		logger.Info().
			Float64("duration_sec", duration).
			Int("chars", len(text)).
			Dur("latency", time.Since(start)).
			Msg("Transcription completed")
	}
	return text, nil
}

// SelfTest transcribes one second of silence to validate the setup.
func (r *Router) SelfTest(ctx context.Context) (string, error) {
	return r.Transcribe(ctx, make([]byte, audio.SampleRate*audio.BytesPerSample))
}
