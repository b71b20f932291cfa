package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	os.Unsetenv("STT_PROVIDER")
	os.Unsetenv("LLM_PROVIDER")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.STTProvider != STTWhisper {
		t.Errorf("Expected default STTProvider 'whisper', got '%s'", cfg.STTProvider)
	}
	if cfg.LLMProvider != LLMOllama {
		t.Errorf("Expected default LLMProvider 'ollama', got '%s'", cfg.LLMProvider)
	}
	if cfg.WhisperModel != "small" {
		t.Errorf("Expected default WhisperModel 'small', got '%s'", cfg.WhisperModel)
	}
	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}
	if cfg.ActivePreset != "quick_notes" {
		t.Errorf("Expected default ActivePreset 'quick_notes', got '%s'", cfg.ActivePreset)
	}
	if cfg.StopGrace() != 800*time.Millisecond {
		t.Errorf("Expected default stop grace 800ms, got %v", cfg.StopGrace())
	}
	if cfg.StreamCloseTimeout() != 5*time.Second {
		t.Errorf("Expected default stream close timeout 5s, got %v", cfg.StreamCloseTimeout())
	}
	if cfg.LLMTimeout() != 5*time.Minute {
		t.Errorf("Expected default LLM timeout 5m, got %v", cfg.LLMTimeout())
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("STT_PROVIDER", "deepgram-live")
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("WHISPER_REALTIME_FACTOR", "4.5")
	t.Setenv("LLM_MAX_INPUT_CHARS", "500")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}
	if cfg.STTProvider != STTDeepgramLive {
		t.Errorf("Expected STTProvider 'deepgram-live', got '%s'", cfg.STTProvider)
	}
	if cfg.DeepgramAPIKey != "dg-key" {
		t.Errorf("Expected DeepgramAPIKey 'dg-key', got '%s'", cfg.DeepgramAPIKey)
	}
	if cfg.WhisperRealtimeFactor != 4.5 {
		t.Errorf("Expected WhisperRealtimeFactor 4.5, got %f", cfg.WhisperRealtimeFactor)
	}
	if cfg.LLMMaxInputChars != 500 {
		t.Errorf("Expected LLMMaxInputChars 500, got %d", cfg.LLMMaxInputChars)
	}
}

func TestLoadFromEnv_InvalidProvider(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"stt", "STT_PROVIDER", "vosk"},
		{"llm", "LLM_PROVIDER", "mystery"},
		{"tts", "TTS_PROVIDER", "espeak"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_KEY", "test-value")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}
	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}
	if cfg.ReconnectMaxAttempts != 8 {
		t.Errorf("Expected default ReconnectMaxAttempts 8, got %d", cfg.ReconnectMaxAttempts)
	}
}
