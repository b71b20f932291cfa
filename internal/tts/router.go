package tts

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/observability"
)

// Router dispatches synthesis to the provider selected in Settings.
type Router struct {
	settings *config.Settings
	backends map[string]Backend
	voices   *VoiceCatalog
	logger   zerolog.Logger
}

// NewRouter creates a router. voices may be nil when no Piper catalog exists.
func NewRouter(settings *config.Settings, backends map[string]Backend, voices *VoiceCatalog) *Router {
	return &Router{
		settings: settings,
		backends: backends,
		voices:   voices,
		logger:   observability.ForComponent("tts"),
	}
}

// Synthesize speaks text in language and returns the WAV file path.
func (r *Router) Synthesize(ctx context.Context, text, language string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", apperr.Config("tts", "No text provided for TTS.")
	}
	snap := r.settings.Snapshot()
	b, ok := r.backends[snap.TTSProvider]
	if !ok || b == nil {
		return "", apperr.Config("tts", "Unsupported TTS provider: %s", snap.TTSProvider)
	}
	if err := b.Initialize(ctx, snap); err != nil {
		observability.ObserveTTS(b.Name(), err)
		return "", err
	}

	path, err := b.Synthesize(ctx, snap, text, language)
	observability.ObserveTTS(b.Name(), err)
	if err != nil {
		if !apperr.IsCancelled(err) {
			r.logger.Error().Err(err).Str("provider", b.Name()).Msg("Speech synthesis failed")
		}
		return "", err
	}
	r.logger.Info().Str("provider", b.Name()).Str("path", path).Msg("Speech synthesized")
	return path, nil
}

// Voices lists the local voice catalog.
func (r *Router) Voices() []Voice {
	if r.voices == nil {
		return nil
	}
	return r.voices.Voices()
}

// SetVoice selects a voice for a language.
func (r *Router) SetVoice(language, voiceID string) error {
	if r.voices == nil {
		return apperr.Config("tts", "No local voice catalog configured")
	}
	if !r.voices.SetVoice(language, voiceID) {
		return apperr.Config("tts", "Language and voice are required")
	}
	return nil
}

// VoiceFor returns the voice selected for a language.
func (r *Router) VoiceFor(language string) string {
	if r.voices == nil {
		return ""
	}
	return r.voices.VoiceFor(language)
}
