package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/observability"
	"github.com/lexiqai/voice-notes/internal/resilience"
)

const (
	defaultSystemPrompt = "You are a helpful assistant."
	askSystemPrompt     = "You answer questions about a voice note transcript. " +
		"Answer concisely and only from the transcript. Say so if the transcript does not contain the answer."
	enrichTemperature = 0.3
)

// TestText is the input used to validate an enrichment setup.
const TestText = "This is a test text for enrichment."

// RouterConfig tunes request handling.
type RouterConfig struct {
	Timeout       time.Duration
	MaxInputChars int
	Retry         *resilience.RetryConfig
	// Breakers guard hosted providers, keyed by provider name.
	Breakers map[string]*resilience.CircuitBreaker
}

// RouterConfigFromConfig maps process configuration onto RouterConfig.
func RouterConfigFromConfig(cfg *config.Config) RouterConfig {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	breakers := make(map[string]*resilience.CircuitBreaker)
	for _, name := range []string{config.LLMOpenAI, config.LLMGemini, config.LLMOpenCode} {
		breakers[name] = resilience.NewCircuitBreaker(
			name,
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		).CountIf(providerFault)
	}
	return RouterConfig{
		Timeout:       cfg.LLMTimeout(),
		MaxInputChars: cfg.LLMMaxInputChars,
		Retry:         retry,
		Breakers:      breakers,
	}
}

// Router sends prompts to the provider selected in Settings.
type Router struct {
	settings *config.Settings
	presets  *PresetStore
	backends map[string]Backend
	cfg      RouterConfig
	logger   zerolog.Logger
}

// NewRouter creates an enrichment router over backends keyed by provider name.
func NewRouter(settings *config.Settings, presets *PresetStore, backends map[string]Backend, cfg RouterConfig) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Router{
		settings: settings,
		presets:  presets,
		backends: backends,
		cfg:      cfg,
		logger:   observability.ForComponent("llm"),
	}
}

// Presets exposes the preset store.
func (r *Router) Presets() *PresetStore {
	return r.presets
}

// Truncate returns the first n characters of s. n <= 0 disables truncation.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func (r *Router) backendFor(snap config.ProviderConfig) (Backend, string, error) {
	b, ok := r.backends[snap.LLMProvider]
	if !ok || b == nil {
		return nil, "", apperr.Config("llm", "Unsupported LLM provider: %s", snap.LLMProvider)
	}
	model := snap.Model
	if model == "" {
		model = b.DefaultModel()
	}
	return b, model, nil
}

func withLanguage(prompt, language string) string {
	if language == "" {
		return prompt
	}
	return prompt + "\n\nRespond in " + language + "."
}

// Check verifies the prerequisites of the active provider.
func (r *Router) Check(ctx context.Context) error {
	snap := r.settings.Snapshot()
	b, _, err := r.backendFor(snap)
	if err != nil {
		return err
	}
	return b.Initialize(ctx, snap)
}

// ListModels returns the models of the active provider.
func (r *Router) ListModels(ctx context.Context) ([]string, error) {
	snap := r.settings.Snapshot()
	b, _, err := r.backendFor(snap)
	if err != nil {
		return nil, err
	}
	return b.ListModels(ctx, snap)
}

// Enrich runs text through a preset and parses the reply. An empty
// presetName selects the active preset.
func (r *Router) Enrich(ctx context.Context, text, presetName string) (*EnrichedResult, error) {
	snap := r.settings.Snapshot()
	if presetName == "" {
		presetName = snap.ActivePreset
	}
	preset, err := r.presets.Load(presetName)
	if err != nil {
		return nil, err
	}

	system := preset.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	req := Request{
		System:      system,
		Prompt:      withLanguage(preset.Render(Truncate(text, r.cfg.MaxInputChars)), snap.OutputLanguage),
		Temperature: enrichTemperature,
	}

	out, provider, model, err := r.generate(ctx, "enrich", snap, req)
	if err != nil {
		return nil, err
	}
	res := ParseOutput(out, preset.Type)
	res.Preset = preset.Name
	res.Provider = provider
	res.Model = model
	return &res, nil
}

// AskQuestion answers question from transcript. Cancelling ctx aborts the
// request with a cancellation error.
func (r *Router) AskQuestion(ctx context.Context, transcript, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", apperr.Config("ask", "Question is required")
	}
	if strings.TrimSpace(transcript) == "" {
		return "", apperr.Config("ask", "No transcript to ask about")
	}

	snap := r.settings.Snapshot()
	prompt := fmt.Sprintf("Transcript:\n%s\n\nQuestion: %s", Truncate(transcript, r.cfg.MaxInputChars), question)
	out, _, _, err := r.generate(ctx, "ask", snap, Request{
		System:      askSystemPrompt,
		Prompt:      withLanguage(prompt, snap.OutputLanguage),
		Temperature: enrichTemperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func transient(err error) bool {
	return resilience.IsRetryable(err) || resilience.IsRetryableNetworkError(err)
}

// providerFault reports whether err says something about the provider's
// health. A missing key or unknown model is the user's to fix.
func providerFault(err error) bool {
	return !apperr.IsConfig(err)
}

// generate runs one request under the router timeout. Hosted providers get
// retries on transient failures behind a per-provider circuit breaker.
func (r *Router) generate(ctx context.Context, op string, snap config.ProviderConfig, req Request) (string, string, string, error) {
	backend, model, err := r.backendFor(snap)
	if err != nil {
		return "", "", "", err
	}
	req.Model = model
	provider := backend.Name()
	logger := observability.WithCorrelationID(r.logger, "").With().
		Str("provider", provider).
		Str("model", model).
		Str("operation", op).
		Logger()

	if err := backend.Initialize(ctx, snap); err != nil {
		if ctx.Err() != nil {
			return "", "", "", apperr.Cancelled(op, ctx.Err())
		}
		observability.RecordError(apperr.KindOf(err).String(), "llm")
		return "", "", "", err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	var out string
	call := func(ctx context.Context) error {
		var err error
		out, err = backend.Generate(ctx, snap, req)
		return err
	}
	if breaker := r.cfg.Breakers[provider]; breaker != nil {
		inner := call
		call = func(ctx context.Context) error { return breaker.Execute(ctx, inner) }
	}

	start := time.Now()
	if provider == config.LLMOllama {
		err = call(runCtx)
	} else {
		err = resilience.Retry(runCtx, call, r.cfg.Retry, transient)
	}

	if ctxErr := apperr.FromContext(op, ctx, runCtx, err,
		fmt.Sprintf("%s did not answer within %s. The input may be too long or the model too slow.",
			displayName(provider), r.cfg.Timeout)); ctxErr != nil {
		err = ctxErr
	} else if err != nil {
		if apperr.KindOf(err) == apperr.KindTransport && !isClassified(err) {
			err = apperr.Transport(op, err, "%s request failed: %v", displayName(provider), err)
		}
	} else if strings.TrimSpace(out) == "" {
		err = apperr.Empty(op, "%s returned an empty response", displayName(provider))
	}
	observability.ObserveLLM(provider, op, start, err)

	if err != nil {
		if apperr.IsCancelled(err) {
			logger.Info().Msg("Request cancelled")
		} else {
			observability.RecordError(apperr.KindOf(err).String(), "llm")
			logger.Error().Err(err).Dur("latency", time.Since(start)).Msg("LLM request failed")
		}
		return "", provider, model, err
	}

	logger.Info().Dur("latency", time.Since(start)).Int("chars", len(out)).Msg("LLM request completed")
	return out, provider, model, nil
}
