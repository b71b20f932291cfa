package llm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lexiqai/voice-notes/internal/apperr"
)

// ErrPresetNotFound is matched by errors.Is when a preset name is unknown.
var ErrPresetNotFound = errors.New("preset not found")

// Preset types understood by the section parser.
const (
	TypeQuickNotes     = "quick_notes"
	TypeMeetingSummary = "meeting_summary"
)

var presetExts = []string{".yaml", ".yml", ".json"}

// Preset is a named prompt template with a declared output shape.
type Preset struct {
	Name         string `yaml:"name,omitempty" json:"name,omitempty"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
	Type         string `yaml:"type" json:"type"`
	SystemPrompt string `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	Prompt       string `yaml:"prompt" json:"prompt"`
}

// Render substitutes text for every {text} placeholder.
func (p *Preset) Render(text string) string {
	return strings.ReplaceAll(p.Prompt, "{text}", text)
}

// PresetStore reads presets from a directory of YAML or JSON files.
type PresetStore struct {
	dir string
}

// NewPresetStore returns a store rooted at dir. A missing directory is an
// empty store.
func NewPresetStore(dir string) *PresetStore {
	return &PresetStore{dir: dir}
}

func notFound(name string) error {
	return &apperr.Error{
		Kind: apperr.KindConfig,
		Op:   "preset",
		Msg:  fmt.Sprintf("Preset '%s' not found", name),
		Err:  ErrPresetNotFound,
	}
}

// Load reads the preset called name.
func (s *PresetStore) Load(name string) (*Preset, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, notFound(name)
	}
	for _, ext := range presetExts {
		data, err := os.ReadFile(filepath.Join(s.dir, name+ext))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read preset %s: %w", name, err)
		}

		var p Preset
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, apperr.Config("preset", "Preset '%s' is invalid: %v", name, err)
		}
		if strings.TrimSpace(p.Prompt) == "" {
			return nil, apperr.Config("preset", "Preset '%s' has no prompt", name)
		}
		if p.Name == "" {
			p.Name = name
		}
		return &p, nil
	}
	return nil, notFound(name)
}

// Exists reports whether a loadable preset called name exists.
func (s *PresetStore) Exists(name string) bool {
	_, err := s.Load(name)
	return err == nil
}

// List returns the sorted names of all presets in the store.
func (s *PresetStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list presets: %w", err)
	}

	seen := make(map[string]bool)
	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		for _, known := range presetExts {
			if ext != known {
				continue
			}
			name := strings.TrimSuffix(e.Name(), ext)
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}
