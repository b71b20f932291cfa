package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/config"
)

const defaultOpenCodeURL = "https://opencode.ai/zen/v1"

// Envelope is the request/response shape a hosted model expects.
type Envelope int

const (
	EnvelopeChat      Envelope = iota // OpenAI-compatible /chat/completions
	EnvelopeMessages                  // Anthropic /messages
	EnvelopeResponses                 // OpenAI /responses
)

func (e Envelope) path() string {
	switch e {
	case EnvelopeMessages:
		return "/messages"
	case EnvelopeResponses:
		return "/responses"
	default:
		return "/chat/completions"
	}
}

// EnvelopeFor picks the envelope by model family. One gateway serves several
// families, so the choice depends on the concrete model.
func EnvelopeFor(model string) Envelope {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return EnvelopeMessages
	case strings.HasPrefix(m, "gpt"):
		return EnvelopeResponses
	default:
		return EnvelopeChat
	}
}

var envelopeQueries = map[Envelope]*gojq.Query{
	EnvelopeChat:      mustParse(`.choices[0].message.content // ""`),
	EnvelopeMessages:  mustParse(`[.content[]? | select(.type == "text") | .text] | join("")`),
	EnvelopeResponses: mustParse(`.output_text // ([.output[]? | .content[]? | select(.type == "output_text") | .text] | join(""))`),
}

func mustParse(expr string) *gojq.Query {
	q, err := gojq.Parse(expr)
	if err != nil {
		panic(err)
	}
	return q
}

// OpenCode calls the OpenCode Zen gateway with raw HTTP.
type OpenCode struct {
	httpClient *http.Client
}

// NewOpenCode creates the gateway backend. httpClient may be nil.
func NewOpenCode(httpClient *http.Client) *OpenCode {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &OpenCode{httpClient: httpClient}
}

func (o *OpenCode) Name() string { return config.LLMOpenCode }

func (o *OpenCode) DefaultModel() string { return "claude-3-5-haiku" }

func (o *OpenCode) Initialize(ctx context.Context, snap config.ProviderConfig) error {
	if !snap.HasCredential(config.LLMOpenCode) {
		return apperr.Config("opencode", "OpenCode API key not configured.")
	}
	return nil
}

func buildPayload(env Envelope, r Request) map[string]any {
	switch env {
	case EnvelopeMessages:
		p := map[string]any{
			"model":       r.Model,
			"max_tokens":  4096,
			"temperature": r.Temperature,
			"messages":    []map[string]any{{"role": "user", "content": r.Prompt}},
		}
		if r.System != "" {
			p["system"] = r.System
		}
		return p
	case EnvelopeResponses:
		p := map[string]any{
			"model": r.Model,
			"input": r.Prompt,
		}
		if r.System != "" {
			p["instructions"] = r.System
		}
		return p
	default:
		var messages []map[string]any
		if r.System != "" {
			messages = append(messages, map[string]any{"role": "system", "content": r.System})
		}
		messages = append(messages, map[string]any{"role": "user", "content": r.Prompt})
		return map[string]any{
			"model":       r.Model,
			"temperature": r.Temperature,
			"messages":    messages,
		}
	}
}

func (o *OpenCode) Generate(ctx context.Context, snap config.ProviderConfig, r Request) (string, error) {
	env := EnvelopeFor(r.Model)
	body, err := json.Marshal(buildPayload(env, r))
	if err != nil {
		return "", err
	}

	base := snap.BaseURL(config.LLMOpenCode)
	if base == "" {
		base = defaultOpenCodeURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(base, "/")+env.path(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	key := snap.Credential(config.LLMOpenCode)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)
	if env == EnvelopeMessages {
		req.Header.Set("x-api-key", key)
		req.Header.Set("anthropic-version", "2023-06-01")
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(config.LLMOpenCode, resp.StatusCode, data)
	}
	return extractText(env, data)
}

func extractText(env Envelope, data []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", apperr.Transport("opencode", err, "OpenCode returned invalid JSON")
	}
	v, ok := envelopeQueries[env].Run(doc).Next()
	if !ok {
		return "", nil
	}
	switch t := v.(type) {
	case error:
		return "", apperr.Transport("opencode", t, "Unexpected OpenCode response: %v", t)
	case string:
		return t, nil
	default:
		return fmt.Sprint(t), nil
	}
}

// ListModels returns the models offered through the gateway.
func (o *OpenCode) ListModels(ctx context.Context, snap config.ProviderConfig) ([]string, error) {
	return []string{"claude-3-5-haiku", "claude-sonnet-4", "gpt-5-nano", "gpt-5", "qwen3-coder", "kimi-k2"}, nil
}
