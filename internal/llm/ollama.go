package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/observability"
	"github.com/lexiqai/voice-notes/internal/resilience"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaConfig configures the local daemon backend.
type OllamaConfig struct {
	AutoStart  bool
	Path       string // Executable used for "ollama serve"; empty searches PATH
	HTTPClient *http.Client
	Reconnect  *resilience.ReconnectConfig
}

// OllamaConfigFromConfig maps process configuration onto OllamaConfig.
func OllamaConfigFromConfig(cfg *config.Config) OllamaConfig {
	rc := resilience.DefaultReconnectConfig()
	rc.MaxAttempts = cfg.ReconnectMaxAttempts
	rc.Backoff = time.Duration(cfg.ReconnectBackoff) * time.Millisecond
	return OllamaConfig{
		AutoStart: cfg.OllamaAutoStart,
		Path:      cfg.OllamaPath,
		Reconnect: rc,
	}
}

// Ollama talks to a local Ollama daemon, launching it on demand.
type Ollama struct {
	cfg    OllamaConfig
	logger zerolog.Logger

	mu       sync.Mutex
	launched *exec.Cmd
	// launch starts the daemon; replaced in tests.
	launch func() (*exec.Cmd, error)
}

// NewOllama creates the local backend.
func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	o := &Ollama{cfg: cfg, logger: observability.ForComponent("ollama")}
	o.launch = o.serve
	return o
}

func (o *Ollama) Name() string { return config.LLMOllama }

func (o *Ollama) DefaultModel() string { return "mistral" }

func ollamaURL(snap config.ProviderConfig) string {
	if u := snap.BaseURL(config.LLMOllama); u != "" {
		return strings.TrimRight(u, "/")
	}
	return defaultOllamaURL
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

func (o *Ollama) tags(ctx context.Context, base string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama not responding: status %d", resp.StatusCode)
	}
	var tags ollamaTags
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (o *Ollama) serve() (*exec.Cmd, error) {
	path := o.cfg.Path
	if path == "" {
		p, err := exec.LookPath("ollama")
		if err != nil {
			return nil, err
		}
		path = p
	}
	cmd := exec.Command(path, "serve")
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() { _ = cmd.Wait() }()
	return cmd, nil
}

// Initialize checks the daemon and, when allowed, launches it and waits for
// it to answer.
func (o *Ollama) Initialize(ctx context.Context, snap config.ProviderConfig) error {
	base := ollamaURL(snap)
	models, err := o.tags(ctx, base)
	if err == nil {
		o.logger.Debug().Strs("models", models).Msg("Ollama available")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !o.cfg.AutoStart {
		return apperr.Config("ollama", "Ollama is not reachable at %s. Start it with 'ollama serve'.", base)
	}

	o.mu.Lock()
	if o.launched == nil {
		cmd, lerr := o.launch()
		if lerr != nil {
			o.mu.Unlock()
			return apperr.Config("ollama", "Ollama is not running and could not be started: %v", lerr)
		}
		o.launched = cmd
		o.logger.Info().Str("url", base).Msg("Launched ollama serve")
	}
	o.mu.Unlock()

	err = resilience.Reconnect(ctx, func(ctx context.Context) error {
		_, err := o.tags(ctx, base)
		return err
	}, o.cfg.Reconnect)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperr.Config("ollama", "Ollama did not become ready at %s: %v", base, err)
	}
	return nil
}

// Shutdown stops a daemon launched by this backend.
func (o *Ollama) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.launched != nil && o.launched.Process != nil {
		_ = o.launched.Process.Kill()
		o.launched = nil
	}
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Generate calls /api/generate without streaming.
func (o *Ollama) Generate(ctx context.Context, snap config.ProviderConfig, r Request) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  r.Model,
		Prompt: r.Prompt,
		System: r.System,
		Stream: false,
		Options: map[string]any{
			"temperature": r.Temperature,
			"top_p":       0.9,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ollamaURL(snap)+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError("ollama", resp.StatusCode, data)
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", apperr.Transport("ollama", err, "Ollama returned invalid JSON")
	}
	if out.Error != "" {
		return "", apperr.Transport("ollama", nil, "Ollama error: %s", apperr.Truncate(out.Error, apperr.MaxDetail))
	}
	return out.Response, nil
}

// ListModels returns the locally pulled models.
func (o *Ollama) ListModels(ctx context.Context, snap config.ProviderConfig) ([]string, error) {
	names, err := o.tags(ctx, ollamaURL(snap))
	if err != nil {
		return nil, apperr.Transport("ollama", err, "Failed to list Ollama models: %v", err)
	}
	return names, nil
}

// statusError builds a transport error for a non-2xx reply, marking
// throttling and server errors as retryable.
func statusError(provider string, code int, body []byte) error {
	err := apperr.Transport(provider, nil, "%s request failed with status %d: %s",
		displayName(provider), code, apperr.Truncate(strings.TrimSpace(string(body)), apperr.MaxDetail))
	if resilience.RetryableStatus(code) {
		return resilience.NewRetryableError(err)
	}
	return err
}

func displayName(provider string) string {
	switch provider {
	case config.LLMOllama:
		return "Ollama"
	case config.LLMOpenAI:
		return "OpenAI"
	case config.LLMGemini:
		return "Gemini"
	case config.LLMOpenCode:
		return "OpenCode"
	}
	return provider
}
