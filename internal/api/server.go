// Package api exposes the pipeline over a local HTTP control API and a
// websocket event stream.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/events"
	"github.com/lexiqai/voice-notes/internal/llm"
	"github.com/lexiqai/voice-notes/internal/observability"
	"github.com/lexiqai/voice-notes/internal/pipeline"
	"github.com/lexiqai/voice-notes/internal/tts"
)

// Catalog lists presets and models for the active enrichment provider.
type Catalog interface {
	Presets() *llm.PresetStore
	ListModels(ctx context.Context) ([]string, error)
}

// VoiceSelector manages text-to-speech voices.
type VoiceSelector interface {
	Voices() []tts.Voice
	SetVoice(language, voiceID string) error
}

// Options wires a Server.
type Options struct {
	Controller     *pipeline.Controller
	Settings       *config.Settings
	Catalog        Catalog
	Voices         VoiceSelector
	Bus            *events.Bus
	Checks         map[string]observability.HealthCheckFunc
	MetricsEnabled bool
	// EventBuffer is the per-client event queue length; events beyond it
	// are dropped for that client.
	EventBuffer int
}

// Server serves the control API.
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The API listens on loopback; browser pages served from
			// other local ports are allowed to subscribe.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: observability.ForComponent("api"),
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(s.opts.Checks))
	if s.opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/events", s.handleEvents)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/recording", func(r chi.Router) {
			r.Post("/start", s.handleStartRecording)
			r.Post("/stop", s.handleStopRecording)
			r.Post("/cancel", s.handleCancelRecording)
			r.Post("/toggle", s.handleToggleRecording)
		})
		r.Route("/chat", func(r chi.Router) {
			r.Post("/start", s.handleStartChat)
			r.Post("/stop", s.handleStopChat)
			r.Post("/cancel", s.handleCancelChat)
		})

		r.Post("/enrich", s.handleEnrich)
		r.Post("/ask", s.handleAsk)
		r.Delete("/ask", s.handleCancelAsk)
		r.Post("/speak", s.handleSpeak)
		r.Post("/test/transcription", s.handleTestTranscription)
		r.Post("/test/enrichment", s.handleTestEnrichment)

		r.Get("/presets", s.handlePresets)
		r.Get("/models", s.handleModels)
		r.Get("/voices", s.handleVoices)
		r.Put("/voices/{language}", s.handleSetVoice)

		r.Get("/settings", s.handleGetSettings)
		r.Patch("/settings", s.handlePatchSettings)
		r.Put("/credentials/{service}", s.handleSetCredential)
		r.Put("/urls/{service}", s.handleSetBaseURL)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		reqLogger := observability.WithCorrelationID(s.logger, middleware.GetReqID(r.Context()))
		reqLogger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// HTTPServer wraps Routes in an http.Server. There is no write timeout:
// enrichment requests may legitimately run for minutes.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
