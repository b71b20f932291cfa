package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/config"
)

// OpenAI calls the chat completions API through the official SDK.
type OpenAI struct {
	httpClient *http.Client
}

// NewOpenAI creates the OpenAI backend. httpClient may be nil.
func NewOpenAI(httpClient *http.Client) *OpenAI {
	return &OpenAI{httpClient: httpClient}
}

func (o *OpenAI) Name() string { return config.LLMOpenAI }

func (o *OpenAI) DefaultModel() string { return "gpt-4o-mini" }

func (o *OpenAI) Initialize(ctx context.Context, snap config.ProviderConfig) error {
	if !snap.HasCredential(config.LLMOpenAI) {
		return apperr.Config("openai", "OpenAI API key not configured.")
	}
	return nil
}

func (o *OpenAI) client(snap config.ProviderConfig) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(snap.Credential(config.LLMOpenAI)),
		option.WithMaxRetries(0),
	}
	if base := snap.BaseURL(config.LLMOpenAI); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if o.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(o.httpClient))
	}
	return openai.NewClient(opts...)
}

func (o *OpenAI) Generate(ctx context.Context, snap config.ProviderConfig, r Request) (string, error) {
	client := o.client(snap)

	var messages []openai.ChatCompletionMessageParamUnion
	if r.System != "" {
		messages = append(messages, openai.SystemMessage(r.System))
	}
	messages = append(messages, openai.UserMessage(r.Prompt))

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       r.Model,
		Messages:    messages,
		Temperature: openai.Float(r.Temperature),
	})
	if err != nil {
		return "", openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Empty("openai", "OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func openAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return statusError(config.LLMOpenAI, apiErr.StatusCode, []byte(apiErr.Message))
	}
	return err
}

// ListModels returns the models offered for enrichment.
func (o *OpenAI) ListModels(ctx context.Context, snap config.ProviderConfig) ([]string, error) {
	return []string{"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini", "gpt-4.1"}, nil
}
