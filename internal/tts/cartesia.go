package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/audio"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/observability"
)

// cartesiaSampleRate is the PCM rate requested from Cartesia.
const cartesiaSampleRate = 24000

// CartesiaConfig configures the hosted backend.
type CartesiaConfig struct {
	VoiceID    string
	ModelID    string
	OutputDir  string
	HTTPClient *http.Client
}

// CartesiaConfigFromConfig maps process configuration onto CartesiaConfig.
func CartesiaConfigFromConfig(cfg *config.Config) CartesiaConfig {
	cc := CartesiaConfig{
		VoiceID: cfg.CartesiaVoiceID,
		ModelID: cfg.CartesiaModelID,
	}
	if cfg.TempDir != "" {
		cc.OutputDir = filepath.Join(cfg.TempDir, "tts")
	}
	return cc
}

// Cartesia synthesizes speech with Cartesia's HTTP API.
type Cartesia struct {
	cfg    CartesiaConfig
	logger zerolog.Logger
}

// CartesiaRequest is the request payload for the Cartesia TTS API.
type CartesiaRequest struct {
	Text            string  `json:"text"`
	VoiceID         string  `json:"voice_id"`
	ModelID         string  `json:"model_id,omitempty"`
	Language        string  `json:"language,omitempty"`
	OutputFormat    string  `json:"output_format,omitempty"`
	SampleRate      int     `json:"sample_rate,omitempty"`
	Speed           float64 `json:"speed,omitempty"`
	Stability       float64 `json:"stability,omitempty"`
	SimilarityBoost float64 `json:"similarity_boost,omitempty"`
}

// NewCartesia creates the hosted backend.
func NewCartesia(cfg CartesiaConfig) *Cartesia {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Cartesia{cfg: cfg, logger: observability.ForComponent("cartesia")}
}

func (c *Cartesia) Name() string { return config.TTSCartesia }

func (c *Cartesia) Initialize(ctx context.Context, snap config.ProviderConfig) error {
	if !snap.HasCredential(config.TTSCartesia) {
		return apperr.Config("cartesia", "Cartesia API key not configured.")
	}
	return nil
}

// Synthesize requests 24 kHz PCM and stores it as canonical 16 kHz WAV.
func (c *Cartesia) Synthesize(ctx context.Context, snap config.ProviderConfig, text, language string) (string, error) {
	if err := c.Initialize(ctx, snap); err != nil {
		return "", err
	}

	body, err := json.Marshal(CartesiaRequest{
		Text:            text,
		VoiceID:         c.cfg.VoiceID,
		ModelID:         c.cfg.ModelID,
		Language:        language,
		OutputFormat:    "pcm",
		SampleRate:      cartesiaSampleRate,
		Speed:           1.0,
		Stability:       0.5,
		SimilarityBoost: 0.75,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := snap.BaseURL(config.TTSCartesia)
	if endpoint == "" {
		endpoint = "https://api.cartesia.ai/v1/tts"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", snap.Credential(config.TTSCartesia))

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperr.Cancelled("cartesia", ctx.Err())
		}
		return "", apperr.Transport("cartesia", err, "Cartesia request failed: %v", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Transport("cartesia", err, "Failed to read Cartesia audio: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperr.Transport("cartesia", nil, "Cartesia API returned status %d: %s",
			resp.StatusCode, apperr.Truncate(string(pcm), apperr.MaxDetail))
	}
	if len(pcm) == 0 {
		return "", apperr.Empty("cartesia", "Cartesia returned empty audio")
	}

	samples := audio.Resample(audio.BytesToSamples(pcm), cartesiaSampleRate, audio.SampleRate)
	wav := audio.WrapPCM(audio.SamplesToBytes(samples))

	out, err := outputPath(c.cfg.OutputDir)
	if err != nil {
		return "", apperr.Transport("cartesia", err, "Failed to prepare TTS output: %v", err)
	}
	if err := os.WriteFile(out, wav, 0o600); err != nil {
		return "", apperr.Transport("cartesia", err, "Failed to write TTS output: %v", err)
	}
	c.logger.Debug().Int("pcm_bytes", len(pcm)).Int("wav_bytes", len(wav)).Msg("Cartesia audio written")
	return out, nil
}
