package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all process configuration for the voice notes service
type Config struct {
	// Control API
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:7777"`

	// Audio capture
	RecordProgram          string `envconfig:"RECORD_PROGRAM" default:""`            // sox, rec or arecord; empty resolves automatically
	RecordDevice           string `envconfig:"RECORD_DEVICE" default:""`             // Capture device name, empty for the system default
	RecordSilenceThreshold string `envconfig:"RECORD_SILENCE_THRESHOLD" default:"0"` // Percent, "0" disables silence trimming
	RecordStopGraceMs      int    `envconfig:"RECORD_STOP_GRACE_MS" default:"800"`
	BundledBinDir          string `envconfig:"BUNDLED_BIN_DIR" default:""`
	TempDir                string `envconfig:"TEMP_DIR" default:""`
	KeepTempFiles          bool   `envconfig:"KEEP_TEMP_FILES" default:"false"`

	// Speech-to-text
	STTProvider           string  `envconfig:"STT_PROVIDER" default:"whisper"` // whisper, deepgram, deepgram-live
	WhisperPath           string  `envconfig:"WHISPER_PATH" default:""`
	WhisperModelPath      string  `envconfig:"WHISPER_MODEL_PATH" default:""`
	WhisperModel          string  `envconfig:"WHISPER_MODEL" default:"small"`
	WhisperNoGPU          bool    `envconfig:"WHISPER_NO_GPU" default:"false"`
	WhisperExtraArgs      string  `envconfig:"WHISPER_EXTRA_ARGS" default:""`
	WhisperTimeoutFloorMs int     `envconfig:"WHISPER_TIMEOUT_FLOOR_MS" default:"10000"`
	WhisperRealtimeFactor float64 `envconfig:"WHISPER_REALTIME_FACTOR" default:"3"`

	DeepgramAPIKey         string  `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel          string  `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage       string  `envconfig:"DEEPGRAM_LANGUAGE" default:"multi"`
	DeepgramBaseURL        string  `envconfig:"DEEPGRAM_BASE_URL" default:"https://api.deepgram.com/v1/listen"`
	DeepgramStreamURL      string  `envconfig:"DEEPGRAM_STREAM_URL" default:"wss://api.deepgram.com/v1/listen"`
	DeepgramResultPath     string  `envconfig:"DEEPGRAM_RESULT_PATH" default:".results.channels[0].alternatives[0].transcript"`
	DeepgramTimeoutFloorMs int     `envconfig:"DEEPGRAM_TIMEOUT_FLOOR_MS" default:"15000"`
	DeepgramRealtimeFactor float64 `envconfig:"DEEPGRAM_REALTIME_FACTOR" default:"1.5"`
	StreamCloseTimeoutMs   int     `envconfig:"STREAM_CLOSE_TIMEOUT_MS" default:"5000"`

	// Enrichment
	LLMProvider      string `envconfig:"LLM_PROVIDER" default:"ollama"` // ollama, openai, gemini, opencode
	LLMModel         string `envconfig:"LLM_MODEL" default:""`          // Empty picks the provider default
	OllamaURL        string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	OllamaAutoStart  bool   `envconfig:"OLLAMA_AUTOSTART" default:"true"`
	OllamaPath       string `envconfig:"OLLAMA_PATH" default:""`
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL    string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY" default:""`
	GeminiBaseURL    string `envconfig:"GEMINI_BASE_URL" default:""`
	OpenCodeAPIKey   string `envconfig:"OPENCODE_API_KEY" default:""`
	OpenCodeBaseURL  string `envconfig:"OPENCODE_BASE_URL" default:"https://opencode.ai/zen/v1"`
	LLMTimeoutMs     int    `envconfig:"LLM_TIMEOUT_MS" default:"300000"`
	LLMMaxInputChars int    `envconfig:"LLM_MAX_INPUT_CHARS" default:"12000"`
	PresetsDir       string `envconfig:"PRESETS_DIR" default:"presets"`
	ActivePreset     string `envconfig:"ACTIVE_PRESET" default:"quick_notes"`
	OutputLanguage   string `envconfig:"OUTPUT_LANGUAGE" default:""`
	AutoEnrich       bool   `envconfig:"AUTO_ENRICH" default:"false"`

	// Text-to-speech
	TTSProvider     string `envconfig:"TTS_PROVIDER" default:"piper"` // piper, cartesia
	PiperPath       string `envconfig:"PIPER_PATH" default:""`
	PiperVoicesPath string `envconfig:"PIPER_VOICES_PATH" default:""`
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaURL     string `envconfig:"CARTESIA_URL" default:"https://api.cartesia.ai/v1/tts"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"250"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"8"`         // Readiness probes after launching a daemon
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"500"`            // Probe backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enum-like fields and numeric ranges. Credentials are not
// required here; each backend reports a missing key when it is selected.
func (c *Config) Validate() error {
	if !ValidSTTProvider(c.STTProvider) {
		return fmt.Errorf("STT_PROVIDER %q is not supported", c.STTProvider)
	}
	if !ValidLLMProvider(c.LLMProvider) {
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLMProvider)
	}
	if !ValidTTSProvider(c.TTSProvider) {
		return fmt.Errorf("TTS_PROVIDER %q is not supported", c.TTSProvider)
	}
	if c.LLMTimeoutMs <= 0 {
		return fmt.Errorf("LLM_TIMEOUT_MS must be positive")
	}
	if c.LLMMaxInputChars <= 0 {
		return fmt.Errorf("LLM_MAX_INPUT_CHARS must be positive")
	}
	if c.WhisperRealtimeFactor <= 0 || c.DeepgramRealtimeFactor <= 0 {
		return fmt.Errorf("realtime factors must be positive")
	}
	return nil
}

// StopGrace is how long a recorder waits for its backend to exit before killing it.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.RecordStopGraceMs) * time.Millisecond
}

// LLMTimeout is the per-request deadline for enrichment and Q&A calls.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutMs) * time.Millisecond
}

// StreamCloseTimeout bounds how long a streaming stop waits for the remote close.
func (c *Config) StreamCloseTimeout() time.Duration {
	return time.Duration(c.StreamCloseTimeoutMs) * time.Millisecond
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
