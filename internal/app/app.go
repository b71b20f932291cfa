// Package app builds every long-lived component once and wires them
// together.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/lexiqai/voice-notes/internal/api"
	"github.com/lexiqai/voice-notes/internal/audio"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/events"
	"github.com/lexiqai/voice-notes/internal/llm"
	"github.com/lexiqai/voice-notes/internal/observability"
	"github.com/lexiqai/voice-notes/internal/pipeline"
	"github.com/lexiqai/voice-notes/internal/stt"
	"github.com/lexiqai/voice-notes/internal/tts"
)

// App owns the process-wide instances.
type App struct {
	Config     *config.Config
	Settings   *config.Settings
	Bus        *events.Bus
	STT        *stt.Router
	Stream     *stt.StreamingSession
	LLM        *llm.Router
	TTS        *tts.Router
	Controller *pipeline.Controller

	ollama *llm.Ollama
}

// New builds the application from configuration.
func New(cfg *config.Config) (*App, error) {
	settings := config.NewSettings(cfg)

	deepgram, err := stt.NewDeepgram(stt.DeepgramConfigFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("deepgram backend: %w", err)
	}
	sttRouter := stt.NewRouter(settings, map[string]stt.Backend{
		config.STTWhisper:  stt.NewWhisper(stt.WhisperConfigFromConfig(cfg)),
		config.STTDeepgram: deepgram,
	})
	stream := stt.NewStreamingSession(stt.StreamConfigFromConfig(cfg), settings)

	ollama := llm.NewOllama(llm.OllamaConfigFromConfig(cfg))
	llmRouter := llm.NewRouter(settings, llm.NewPresetStore(cfg.PresetsDir), map[string]llm.Backend{
		config.LLMOllama:   ollama,
		config.LLMOpenAI:   llm.NewOpenAI(nil),
		config.LLMGemini:   llm.NewGemini(nil),
		config.LLMOpenCode: llm.NewOpenCode(nil),
	}, llm.RouterConfigFromConfig(cfg))

	piper := tts.NewPiper(tts.PiperConfigFromConfig(cfg))
	ttsRouter := tts.NewRouter(settings, map[string]tts.Backend{
		config.TTSPiper:    piper,
		config.TTSCartesia: tts.NewCartesia(tts.CartesiaConfigFromConfig(cfg)),
	}, piper.Catalog())

	source := audio.NewProcessSource(audio.ProcessConfig{
		Program:          cfg.RecordProgram,
		Device:           cfg.RecordDevice,
		SilenceThreshold: cfg.RecordSilenceThreshold,
		BundledBinDir:    cfg.BundledBinDir,
	})
	bus := events.NewBus()
	ctrl := pipeline.New(pipeline.Deps{
		Main:     audio.NewRecorder(audio.SlotMain, source, cfg.StopGrace()),
		Chat:     audio.NewRecorder(audio.SlotChat, source, cfg.StopGrace()),
		Stream:   stream,
		STT:      sttRouter,
		LLM:      llmRouter,
		TTS:      ttsRouter,
		Settings: settings,
		Bus:      bus,
	})

	return &App{
		Config:     cfg,
		Settings:   settings,
		Bus:        bus,
		STT:        sttRouter,
		Stream:     stream,
		LLM:        llmRouter,
		TTS:        ttsRouter,
		Controller: ctrl,
		ollama:     ollama,
	}, nil
}

func check(fn func(context.Context) error) observability.HealthCheckFunc {
	return func(ctx context.Context) (bool, error) {
		if err := fn(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
}

// Server builds the control API for this application.
func (a *App) Server() *api.Server {
	return api.NewServer(api.Options{
		Controller: a.Controller,
		Settings:   a.Settings,
		Catalog:    a.LLM,
		Voices:     a.TTS,
		Bus:        a.Bus,
		Checks: map[string]observability.HealthCheckFunc{
			"stt": check(a.STT.Check),
			"llm": check(a.LLM.Check),
		},
		MetricsEnabled: a.Config.MetricsEnabled,
	})
}

// Close stops recordings and in-flight work, then stops an Ollama daemon
// this process launched.
func (a *App) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	a.Controller.Close(ctx)
	a.ollama.Shutdown()
}
