package tts

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/lexiqai/voice-notes/internal/config"
)

// Backend is one text-to-speech engine. Synthesize writes a canonical WAV
// file and returns its path.
type Backend interface {
	Name() string
	Initialize(ctx context.Context, snap config.ProviderConfig) error
	Synthesize(ctx context.Context, snap config.ProviderConfig, text, language string) (string, error)
}

// outputPath returns a fresh file name under dir, creating dir if needed.
func outputPath(dir string) (string, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "voice-notes", "tts")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "tts_"+uuid.New().String()+".wav"), nil
}
