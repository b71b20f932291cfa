package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/itchyny/gojq"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/audio"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/observability"
	"github.com/lexiqai/voice-notes/internal/resilience"
)

// DeepgramConfig configures the batch (prerecorded) Deepgram backend.
type DeepgramConfig struct {
	Model      string
	Language   string
	ResultPath string // jq expression selecting the transcript
	Timeout    TimeoutPolicy
	HTTPClient *http.Client
	Breaker    *resilience.CircuitBreaker
}

// DeepgramConfigFromConfig maps process configuration onto DeepgramConfig.
func DeepgramConfigFromConfig(cfg *config.Config) DeepgramConfig {
	return DeepgramConfig{
		Model:      cfg.DeepgramModel,
		Language:   cfg.DeepgramLanguage,
		ResultPath: cfg.DeepgramResultPath,
		Timeout: TimeoutPolicy{
			Floor:          time.Duration(cfg.DeepgramTimeoutFloorMs) * time.Millisecond,
			RealtimeFactor: cfg.DeepgramRealtimeFactor,
		},
		Breaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		).CountIf(func(err error) bool { return !apperr.IsConfig(err) }),
	}
}

// Deepgram uploads a complete WAV buffer to the hosted prerecorded API.
type Deepgram struct {
	cfg    DeepgramConfig
	query  *gojq.Query
	logger zerolog.Logger
}

// NewDeepgram creates the batch backend. It fails if ResultPath is not a
// valid jq expression.
func NewDeepgram(cfg DeepgramConfig) (*Deepgram, error) {
	if cfg.ResultPath == "" {
		cfg.ResultPath = ".results.channels[0].alternatives[0].transcript"
	}
	query, err := gojq.Parse(cfg.ResultPath)
	if err != nil {
		return nil, fmt.Errorf("invalid deepgram result path %q: %w", cfg.ResultPath, err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Deepgram{
		cfg:    cfg,
		query:  query,
		logger: observability.ForComponent("deepgram"),
	}, nil
}

func (d *Deepgram) Name() string { return config.STTDeepgram }

// Initialize requires a configured API key.
func (d *Deepgram) Initialize(ctx context.Context, snap config.ProviderConfig) error {
	if !snap.HasCredential(config.STTDeepgram) {
		return apperr.Config("deepgram", "Deepgram API key not configured.")
	}
	return nil
}

func (d *Deepgram) endpoint(snap config.ProviderConfig) (string, error) {
	base := snap.BaseURL(config.STTDeepgram)
	if base == "" {
		base = "https://api.deepgram.com/v1/listen"
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", apperr.Config("deepgram", "Invalid Deepgram URL: %v", err)
	}
	q := u.Query()
	q.Set("model", d.cfg.Model)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if d.cfg.Language != "" {
		if d.cfg.Language == "multi" || d.cfg.Language == "auto" {
			q.Set("detect_language", "true")
		} else {
			q.Set("language", d.cfg.Language)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Transcribe posts the audio under a deadline that scales with its length.
// A response without a transcript yields "".
func (d *Deepgram) Transcribe(ctx context.Context, wav []byte, snap config.ProviderConfig) (string, error) {
	if err := d.Initialize(ctx, snap); err != nil {
		return "", err
	}
	endpoint, err := d.endpoint(snap)
	if err != nil {
		return "", err
	}

	timeout := d.cfg.Timeout.For(audio.Duration(wav))
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body []byte
	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(wav))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Token "+snap.Credential(config.STTDeepgram))
		req.Header.Set("Content-Type", "audio/wav")

		resp, err := d.cfg.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return apperr.Transport("deepgram", nil, "Deepgram request failed with status %d: %s",
				resp.StatusCode, apperr.Truncate(string(body), apperr.MaxDetail))
		}
		return nil
	}

	if d.cfg.Breaker != nil {
		err = d.cfg.Breaker.Execute(reqCtx, call)
	} else {
		err = call(reqCtx)
	}
	if ctxErr := apperr.FromContext("deepgram", ctx, reqCtx, err,
		fmt.Sprintf("Deepgram did not respond within %s.", timeout)); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		var classified *apperr.Error
		if errors.As(err, &classified) {
			return "", err
		}
		return "", apperr.Transport("deepgram", err, "Deepgram request failed: %v", err)
	}

	return d.extract(body)
}

func (d *Deepgram) extract(body []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", apperr.Transport("deepgram", err, "Deepgram returned invalid JSON")
	}
	v, ok := d.query.Run(doc).Next()
	if !ok {
		return "", nil
	}
	switch t := v.(type) {
	case error:
		d.logger.Warn().Err(t).Msg("Deepgram response has no transcript")
		return "", nil
	case string:
		return t, nil
	default:
		return "", nil
	}
}
