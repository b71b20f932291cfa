package tts

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
)

// Voice is one entry of a Piper voices.json catalog. Paths are relative to
// the catalog file.
type Voice struct {
	VoiceID    string `json:"voice_id"`
	Name       string `json:"name,omitempty"`
	Language   string `json:"language"`
	ModelPath  string `json:"model_path"`
	ConfigPath string `json:"config_path,omitempty"`
}

type voiceFile struct {
	Voices []Voice `json:"voices"`
}

var (
	languagePrefix = map[string]string{"de": "de", "en": "en"}
	preferredVoice = map[string]string{
		"de": "de_DE-thorsten-medium",
		"en": "en_US-ryan-medium",
	}
)

// VoiceCatalog reads voices.json and remembers per-language selections.
type VoiceCatalog struct {
	path string

	mu       sync.RWMutex
	selected map[string]string
}

// NewVoiceCatalog creates a catalog backed by the file at path.
func NewVoiceCatalog(path string) *VoiceCatalog {
	return &VoiceCatalog{path: path, selected: make(map[string]string)}
}

// Path returns the catalog file location.
func (c *VoiceCatalog) Path() string { return c.path }

// Voices returns every voice in the catalog. A missing or unreadable file is
// an empty catalog.
func (c *VoiceCatalog) Voices() []Voice {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil
	}
	var f voiceFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	return f.Voices
}

func normalizeLanguage(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	if l == "" {
		return "en"
	}
	return l
}

// SetVoice selects voiceID for language. Both must be non-empty.
func (c *VoiceCatalog) SetVoice(language, voiceID string) bool {
	if strings.TrimSpace(language) == "" || strings.TrimSpace(voiceID) == "" {
		return false
	}
	c.mu.Lock()
	c.selected[normalizeLanguage(language)] = voiceID
	c.mu.Unlock()
	return true
}

// VoiceFor returns the selected or preferred voice ID for language, or "".
func (c *VoiceCatalog) VoiceFor(language string) string {
	l := normalizeLanguage(language)
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v := c.selected[l]; v != "" {
		return v
	}
	return preferredVoice[l]
}

// Resolve picks a voice for language: the user's selection, then the
// preferred voice, then the first voice whose language matches, then the
// first voice. It returns nil for an empty catalog.
func (c *VoiceCatalog) Resolve(language string) *Voice {
	voices := c.Voices()
	if len(voices) == 0 {
		return nil
	}
	l := normalizeLanguage(language)

	find := func(id string) *Voice {
		for i := range voices {
			if voices[i].VoiceID == id {
				return &voices[i]
			}
		}
		return nil
	}

	c.mu.RLock()
	selected := c.selected[l]
	c.mu.RUnlock()
	if selected != "" {
		if v := find(selected); v != nil {
			return v
		}
	}
	if preferred := preferredVoice[l]; preferred != "" {
		if v := find(preferred); v != nil {
			return v
		}
	}

	prefix := l
	if p, ok := languagePrefix[l]; ok {
		prefix = p
	}
	for i := range voices {
		if strings.HasPrefix(strings.ToLower(voices[i].Language), prefix) {
			return &voices[i]
		}
	}
	return &voices[0]
}
