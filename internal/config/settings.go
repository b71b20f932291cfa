package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// Speech-to-text providers
const (
	STTWhisper      = "whisper"
	STTDeepgram     = "deepgram"
	STTDeepgramLive = "deepgram-live"
)

// Enrichment providers
const (
	LLMOllama   = "ollama"
	LLMOpenAI   = "openai"
	LLMGemini   = "gemini"
	LLMOpenCode = "opencode"
)

// Text-to-speech providers
const (
	TTSPiper    = "piper"
	TTSCartesia = "cartesia"
)

var (
	sttProviders = []string{STTWhisper, STTDeepgram, STTDeepgramLive}
	llmProviders = []string{LLMOllama, LLMOpenAI, LLMGemini, LLMOpenCode}
	ttsProviders = []string{TTSPiper, TTSCartesia}

	// Services that accept a credential or a base URL override.
	credentialNames = []string{STTDeepgram, LLMOpenAI, LLMGemini, LLMOpenCode, TTSCartesia}
	baseURLNames    = []string{STTDeepgram, STTDeepgramLive, LLMOllama, LLMOpenAI, LLMGemini, LLMOpenCode, TTSCartesia}
)

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// ValidSTTProvider reports whether name is a known speech-to-text provider.
func ValidSTTProvider(name string) bool { return contains(sttProviders, name) }

// ValidLLMProvider reports whether name is a known enrichment provider.
func ValidLLMProvider(name string) bool { return contains(llmProviders, name) }

// ValidTTSProvider reports whether name is a known text-to-speech provider.
func ValidTTSProvider(name string) bool { return contains(ttsProviders, name) }

// CredentialServices lists the services that take an API credential.
func CredentialServices() []string {
	return append([]string(nil), credentialNames...)
}

// ProviderConfig is an immutable view of the runtime provider settings.
// Routers take one at the start of a request and never re-read Settings mid-flight.
type ProviderConfig struct {
	STTProvider    string
	LLMProvider    string
	TTSProvider    string
	Model          string
	ActivePreset   string
	OutputLanguage string
	AutoEnrich     bool

	baseURLs    map[string]string
	credentials map[string]string
}

// BaseURL returns the configured base URL for a service, or "".
func (p ProviderConfig) BaseURL(service string) string {
	return p.baseURLs[service]
}

// Credential returns the configured API credential for a service, or "".
func (p ProviderConfig) Credential(service string) string {
	return p.credentials[service]
}

// HasCredential reports whether a non-empty credential is set for service.
func (p ProviderConfig) HasCredential(service string) bool {
	return p.credentials[service] != ""
}

// Settings holds the mutable provider configuration. It is changed only
// through the validating setters below.
type Settings struct {
	mu  sync.RWMutex
	cur ProviderConfig
}

// NewSettings seeds runtime settings from the process configuration.
func NewSettings(cfg *Config) *Settings {
	s := &Settings{cur: ProviderConfig{
		STTProvider:    cfg.STTProvider,
		LLMProvider:    cfg.LLMProvider,
		TTSProvider:    cfg.TTSProvider,
		Model:          cfg.LLMModel,
		ActivePreset:   cfg.ActivePreset,
		OutputLanguage: cfg.OutputLanguage,
		AutoEnrich:     cfg.AutoEnrich,
		baseURLs: map[string]string{
			STTDeepgram:     cfg.DeepgramBaseURL,
			STTDeepgramLive: cfg.DeepgramStreamURL,
			LLMOllama:       cfg.OllamaURL,
			LLMOpenAI:       cfg.OpenAIBaseURL,
			LLMGemini:       cfg.GeminiBaseURL,
			LLMOpenCode:     cfg.OpenCodeBaseURL,
			TTSCartesia:     cfg.CartesiaURL,
		},
		credentials: map[string]string{
			STTDeepgram: cfg.DeepgramAPIKey,
			LLMOpenAI:   cfg.OpenAIAPIKey,
			LLMGemini:   cfg.GeminiAPIKey,
			LLMOpenCode: cfg.OpenCodeAPIKey,
			TTSCartesia: cfg.CartesiaAPIKey,
		},
	}}
	return s
}

// Snapshot returns a deep copy of the current settings.
func (s *Settings) Snapshot() ProviderConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.cur
	snap.baseURLs = make(map[string]string, len(s.cur.baseURLs))
	for k, v := range s.cur.baseURLs {
		snap.baseURLs[k] = v
	}
	snap.credentials = make(map[string]string, len(s.cur.credentials))
	for k, v := range s.cur.credentials {
		snap.credentials[k] = v
	}
	return snap
}

func (s *Settings) update(fn func(p *ProviderConfig)) {
	s.mu.Lock()
	fn(&s.cur)
	s.mu.Unlock()
}

// SetSTTProvider selects the speech-to-text backend.
func (s *Settings) SetSTTProvider(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fmt.Errorf("STT provider is required")
	}
	if !ValidSTTProvider(name) {
		return fmt.Errorf("unsupported STT provider: %s", name)
	}
	s.update(func(p *ProviderConfig) { p.STTProvider = name })
	return nil
}

// SetLLMProvider selects the enrichment backend. The active model is reset
// so the new provider's default applies until SetModel is called.
func (s *Settings) SetLLMProvider(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if !ValidLLMProvider(name) {
		return fmt.Errorf("unsupported LLM provider: %s", name)
	}
	s.update(func(p *ProviderConfig) {
		if p.LLMProvider != name {
			p.Model = ""
		}
		p.LLMProvider = name
	})
	return nil
}

// SetTTSProvider selects the speech synthesis backend.
func (s *Settings) SetTTSProvider(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if !ValidTTSProvider(name) {
		return fmt.Errorf("unsupported TTS provider: %s", name)
	}
	s.update(func(p *ProviderConfig) { p.TTSProvider = name })
	return nil
}

// SetModel sets the active model for the current enrichment provider.
func (s *Settings) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return fmt.Errorf("model name is required")
	}
	s.update(func(p *ProviderConfig) { p.Model = model })
	return nil
}

// SetBaseURL overrides the endpoint of a service. Only http(s) and ws(s)
// URLs with a host are accepted.
func (s *Settings) SetBaseURL(service, raw string) error {
	if !contains(baseURLNames, service) {
		return fmt.Errorf("service %q has no configurable URL", service)
	}
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid URL for %s: %q", service, raw)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid URL scheme for %s: %q", service, u.Scheme)
	}
	s.update(func(p *ProviderConfig) { p.baseURLs[service] = raw })
	return nil
}

// SetCredential stores an API key for a service. An empty key clears it.
func (s *Settings) SetCredential(service, key string) error {
	if !contains(credentialNames, service) {
		return fmt.Errorf("service %q does not take a credential", service)
	}
	key = strings.TrimSpace(key)
	s.update(func(p *ProviderConfig) { p.credentials[service] = key })
	return nil
}

// SetActivePreset records the preset used when enrichment is called without one.
// Callers verify the preset exists before committing it.
func (s *Settings) SetActivePreset(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("preset name is required")
	}
	s.update(func(p *ProviderConfig) { p.ActivePreset = name })
	return nil
}

// SetOutputLanguage sets the language enrichment output is requested in.
// An empty value means "same as the input".
func (s *Settings) SetOutputLanguage(lang string) error {
	lang = strings.TrimSpace(lang)
	if len(lang) > 16 {
		return fmt.Errorf("invalid output language: %q", lang)
	}
	s.update(func(p *ProviderConfig) { p.OutputLanguage = lang })
	return nil
}

// SetAutoEnrich toggles enrichment after every transcription.
func (s *Settings) SetAutoEnrich(enabled bool) {
	s.update(func(p *ProviderConfig) { p.AutoEnrich = enabled })
}
