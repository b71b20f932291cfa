package config

import "testing"

func newTestSettings() *Settings {
	return NewSettings(&Config{
		STTProvider:   STTWhisper,
		LLMProvider:   LLMOllama,
		TTSProvider:   TTSPiper,
		LLMModel:      "mistral",
		ActivePreset:  "quick_notes",
		OllamaURL:     "http://localhost:11434",
		OpenAIAPIKey:  "sk-test",
		OpenAIBaseURL: "https://api.openai.com/v1",
	})
}

func TestSettings_SnapshotIsolation(t *testing.T) {
	s := newTestSettings()
	snap := s.Snapshot()

	if err := s.SetCredential(LLMOpenAI, "sk-other"); err != nil {
		t.Fatalf("SetCredential failed: %v", err)
	}
	if err := s.SetLLMProvider(LLMOpenAI); err != nil {
		t.Fatalf("SetLLMProvider failed: %v", err)
	}

	if snap.Credential(LLMOpenAI) != "sk-test" {
		t.Errorf("Expected snapshot credential to stay 'sk-test', got '%s'", snap.Credential(LLMOpenAI))
	}
	if snap.LLMProvider != LLMOllama {
		t.Errorf("Expected snapshot provider to stay 'ollama', got '%s'", snap.LLMProvider)
	}

	next := s.Snapshot()
	if next.Credential(LLMOpenAI) != "sk-other" {
		t.Errorf("Expected new credential 'sk-other', got '%s'", next.Credential(LLMOpenAI))
	}
	if next.Model != "" {
		t.Errorf("Expected model reset after provider switch, got '%s'", next.Model)
	}
}

func TestSettings_SetSTTProvider(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"whisper", "whisper", STTWhisper, false},
		{"mixed case", " Deepgram ", STTDeepgram, false},
		{"live", "deepgram-live", STTDeepgramLive, false},
		{"empty", "", "", true},
		{"unknown", "vosk", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSettings()
			err := s.SetSTTProvider(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetSTTProvider(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && s.Snapshot().STTProvider != tt.want {
				t.Errorf("Expected provider %s, got %s", tt.want, s.Snapshot().STTProvider)
			}
		})
	}
}

func TestSettings_SetBaseURL(t *testing.T) {
	s := newTestSettings()

	if err := s.SetBaseURL(LLMOllama, "http://10.0.0.5:11434/"); err != nil {
		t.Fatalf("SetBaseURL failed: %v", err)
	}
	if got := s.Snapshot().BaseURL(LLMOllama); got != "http://10.0.0.5:11434" {
		t.Errorf("Expected trailing slash trimmed, got '%s'", got)
	}

	if err := s.SetBaseURL(LLMOllama, "ftp://host"); err == nil {
		t.Error("Expected error for ftp scheme")
	}
	if err := s.SetBaseURL(LLMOllama, "not a url"); err == nil {
		t.Error("Expected error for URL without host")
	}
	if err := s.SetBaseURL(STTWhisper, "http://localhost"); err == nil {
		t.Error("Expected error for service without URL")
	}
}

func TestSettings_SetCredential(t *testing.T) {
	s := newTestSettings()

	if err := s.SetCredential(STTDeepgram, "  dg  "); err != nil {
		t.Fatalf("SetCredential failed: %v", err)
	}
	if !s.Snapshot().HasCredential(STTDeepgram) {
		t.Error("Expected deepgram credential to be set")
	}
	if err := s.SetCredential(STTDeepgram, ""); err != nil {
		t.Fatalf("SetCredential clear failed: %v", err)
	}
	if s.Snapshot().HasCredential(STTDeepgram) {
		t.Error("Expected deepgram credential to be cleared")
	}
	if err := s.SetCredential(LLMOllama, "x"); err == nil {
		t.Error("Expected error for service without credential")
	}
}

func TestSettings_SetModelAndPreset(t *testing.T) {
	s := newTestSettings()

	if err := s.SetModel(""); err == nil {
		t.Error("Expected error for empty model")
	}
	if err := s.SetModel("llama3"); err != nil {
		t.Fatalf("SetModel failed: %v", err)
	}
	if err := s.SetActivePreset("meeting_summary"); err != nil {
		t.Fatalf("SetActivePreset failed: %v", err)
	}
	s.SetAutoEnrich(true)

	snap := s.Snapshot()
	if snap.Model != "llama3" || snap.ActivePreset != "meeting_summary" || !snap.AutoEnrich {
		t.Errorf("Unexpected snapshot: %+v", snap)
	}
}
