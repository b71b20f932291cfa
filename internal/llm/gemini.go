package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/config"
)

// Gemini calls the Gemini API through the genai SDK.
type Gemini struct {
	httpClient *http.Client
}

// NewGemini creates the Gemini backend. httpClient may be nil.
func NewGemini(httpClient *http.Client) *Gemini {
	return &Gemini{httpClient: httpClient}
}

func (g *Gemini) Name() string { return config.LLMGemini }

func (g *Gemini) DefaultModel() string { return "gemini-2.0-flash" }

func (g *Gemini) Initialize(ctx context.Context, snap config.ProviderConfig) error {
	if !snap.HasCredential(config.LLMGemini) {
		return apperr.Config("gemini", "Gemini API key not configured.")
	}
	return nil
}

func (g *Gemini) client(ctx context.Context, snap config.ProviderConfig) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:     snap.Credential(config.LLMGemini),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
	}
	if base := snap.BaseURL(config.LLMGemini); base != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, apperr.Transport("gemini", err, "Failed to create Gemini client: %v", err)
	}
	return client, nil
}

func (g *Gemini) Generate(ctx context.Context, snap config.ProviderConfig, r Request) (string, error) {
	client, err := g.client(ctx, snap)
	if err != nil {
		return "", err
	}

	temperature := float32(r.Temperature)
	cfg := &genai.GenerateContentConfig{Temperature: &temperature}
	if r.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: r.System}}}
	}

	resp, err := client.Models.GenerateContent(ctx, r.Model, []*genai.Content{
		{Parts: []*genai.Part{{Text: r.Prompt}}, Role: "user"},
	}, cfg)
	if err != nil {
		return "", geminiError(err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", apperr.Empty("gemini", "Gemini returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func geminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(config.LLMGemini, apiErr.Code, []byte(apiErr.Message))
	}
	return err
}

// ListModels returns the models offered for enrichment.
func (g *Gemini) ListModels(ctx context.Context, snap config.ProviderConfig) ([]string, error) {
	return []string{"gemini-2.0-flash", "gemini-2.0-flash-lite", "gemini-2.5-flash", "gemini-2.5-pro"}, nil
}
