package llm

import (
	"context"
	"errors"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/config"
)

// Request is one prompt sent to a language model.
type Request struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
}

// Backend is one language model provider.
type Backend interface {
	Name() string

	// DefaultModel is used when no model is selected in Settings.
	DefaultModel() string

	// Initialize checks prerequisites such as credentials or a reachable
	// daemon. Hosted backends must not perform network I/O here.
	Initialize(ctx context.Context, snap config.ProviderConfig) error

	// Generate returns the raw model reply.
	Generate(ctx context.Context, snap config.ProviderConfig, req Request) (string, error)

	// ListModels returns the models the provider offers.
	ListModels(ctx context.Context, snap config.ProviderConfig) ([]string, error)
}

// Structured holds fields recovered from a free-form reply. A field is
// absent when no matching section was found.
type Structured struct {
	CorrectedText string   `json:"corrected_text,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	BulletPoints  []string `json:"bullet_points,omitempty"`
	KeyPoints     []string `json:"key_points,omitempty"`
	ActionItems   []string `json:"action_items,omitempty"`
}

// EnrichedResult is the raw reply plus its structured interpretation.
type EnrichedResult struct {
	Original   string     `json:"original"`
	Structured Structured `json:"structured"`
	Preset     string     `json:"preset,omitempty"`
	Provider   string     `json:"provider,omitempty"`
	Model      string     `json:"model,omitempty"`
}

func isClassified(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e)
}
