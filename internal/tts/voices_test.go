package tts

import (
	"os"
	"path/filepath"
	"testing"
)

const catalogJSON = `{"voices":[
  {"voice_id":"en_GB-alan-low","language":"en_GB","model_path":"en_GB-alan-low.onnx"},
  {"voice_id":"en_US-ryan-medium","language":"en_US","model_path":"en_US-ryan-medium.onnx"},
  {"voice_id":"de_DE-karlsson-low","language":"de_DE","model_path":"de_DE-karlsson-low.onnx"},
  {"voice_id":"fr_FR-siwis-low","language":"fr_FR","model_path":"fr_FR-siwis-low.onnx"}
]}`

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voices.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVoiceCatalogResolve(t *testing.T) {
	c := NewVoiceCatalog(writeCatalog(t, catalogJSON))

	tests := []struct {
		language string
		want     string
	}{
		{"en", "en_US-ryan-medium"},  // preferred voice
		{"EN", "en_US-ryan-medium"},  // case-insensitive
		{"", "en_US-ryan-medium"},    // defaults to English
		{"de", "de_DE-karlsson-low"}, // preferred missing, prefix match
		{"fr", "fr_FR-siwis-low"},
		{"ja", "en_GB-alan-low"}, // nothing matches, first voice
	}
	for _, tt := range tests {
		t.Run(tt.language, func(t *testing.T) {
			v := c.Resolve(tt.language)
			if v == nil || v.VoiceID != tt.want {
				t.Errorf("Resolve(%q) = %+v, want %s", tt.language, v, tt.want)
			}
		})
	}
}

func TestVoiceCatalogSelection(t *testing.T) {
	c := NewVoiceCatalog(writeCatalog(t, catalogJSON))

	if c.SetVoice("", "x") || c.SetVoice("en", "") {
		t.Error("SetVoice() accepted empty input")
	}
	if !c.SetVoice("EN", "en_GB-alan-low") {
		t.Fatal("SetVoice() rejected valid input")
	}
	if v := c.Resolve("en"); v.VoiceID != "en_GB-alan-low" {
		t.Errorf("Resolve() after selection = %s", v.VoiceID)
	}
	if got := c.VoiceFor("en"); got != "en_GB-alan-low" {
		t.Errorf("VoiceFor(en) = %q", got)
	}
	if got := c.VoiceFor("de"); got != "de_DE-thorsten-medium" {
		t.Errorf("VoiceFor(de) = %q, want preferred voice", got)
	}

	// An unknown selection falls back to the normal order.
	c.SetVoice("en", "missing-voice")
	if v := c.Resolve("en"); v.VoiceID != "en_US-ryan-medium" {
		t.Errorf("Resolve() with unknown selection = %s", v.VoiceID)
	}
}

func TestVoiceCatalogMissingOrInvalid(t *testing.T) {
	if v := NewVoiceCatalog(filepath.Join(t.TempDir(), "none.json")).Resolve("en"); v != nil {
		t.Errorf("Resolve() on missing file = %+v", v)
	}
	if voices := NewVoiceCatalog(writeCatalog(t, "{not json")).Voices(); len(voices) != 0 {
		t.Errorf("Voices() on invalid file = %v", voices)
	}
}
