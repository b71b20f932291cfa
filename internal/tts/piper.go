package tts

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/observability"
)

// PiperConfig locates the Piper executable and its voices.
type PiperConfig struct {
	Path       string // Explicit executable path
	VoicesPath string // voices.json; defaults to <BundledDir>/piper/voices.json
	BundledDir string
	OutputDir  string
}

// PiperConfigFromConfig maps process configuration onto PiperConfig.
func PiperConfigFromConfig(cfg *config.Config) PiperConfig {
	pc := PiperConfig{
		Path:       cfg.PiperPath,
		VoicesPath: cfg.PiperVoicesPath,
		BundledDir: cfg.BundledBinDir,
	}
	if cfg.TempDir != "" {
		pc.OutputDir = filepath.Join(cfg.TempDir, "tts")
	}
	return pc
}

// Piper synthesizes speech by piping text into the piper executable.
type Piper struct {
	cfg     PiperConfig
	catalog *VoiceCatalog
	logger  zerolog.Logger
}

// NewPiper creates the local backend.
func NewPiper(cfg PiperConfig) *Piper {
	if cfg.VoicesPath == "" {
		cfg.VoicesPath = filepath.Join(cfg.BundledDir, "piper", "voices.json")
	}
	return &Piper{
		cfg:     cfg,
		catalog: NewVoiceCatalog(cfg.VoicesPath),
		logger:  observability.ForComponent("piper"),
	}
}

func (p *Piper) Name() string { return config.TTSPiper }

// Catalog exposes the voice catalog.
func (p *Piper) Catalog() *VoiceCatalog { return p.catalog }

func (p *Piper) root() string {
	return filepath.Join(p.cfg.BundledDir, "piper")
}

// Command resolves the executable: explicit path, bundled binary, then PATH.
func (p *Piper) Command() string {
	if p.cfg.Path != "" && isFile(p.cfg.Path) {
		return p.cfg.Path
	}
	exe := "piper"
	if runtime.GOOS == "windows" {
		exe = "piper.exe"
	}
	if p.cfg.BundledDir != "" {
		for _, c := range []string{filepath.Join(p.root(), exe), filepath.Join(p.root(), "bin", exe)} {
			if isFile(c) {
				return c
			}
		}
	}
	return "piper"
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// env adds the bundled library directory to the loader path.
func (p *Piper) env(cmd string) []string {
	env := os.Environ()
	abs, _ := filepath.Abs(cmd)
	candidates := []string{filepath.Join(filepath.Dir(abs), "lib"), filepath.Join(filepath.Dir(filepath.Dir(abs)), "lib")}
	if p.cfg.BundledDir != "" {
		candidates = append([]string{filepath.Join(p.root(), "lib")}, candidates...)
	}
	for _, dir := range candidates {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		switch runtime.GOOS {
		case "windows":
			return append(env, "PATH="+dir+string(os.PathListSeparator)+os.Getenv("PATH"))
		case "darwin":
			return append(env, "DYLD_LIBRARY_PATH="+dir+string(os.PathListSeparator)+os.Getenv("DYLD_LIBRARY_PATH"))
		default:
			return append(env, "LD_LIBRARY_PATH="+dir+string(os.PathListSeparator)+os.Getenv("LD_LIBRARY_PATH"))
		}
	}
	return env
}

// Initialize requires at least one voice in the catalog.
func (p *Piper) Initialize(ctx context.Context, snap config.ProviderConfig) error {
	if len(p.catalog.Voices()) == 0 {
		return apperr.Config("piper", "No Piper voices found. Check %s.", p.catalog.Path())
	}
	return nil
}

func (p *Piper) Synthesize(ctx context.Context, snap config.ProviderConfig, text, language string) (string, error) {
	voice := p.catalog.Resolve(language)
	if voice == nil {
		return "", apperr.Config("piper", "No Piper voices found. Check %s.", p.catalog.Path())
	}
	dir := filepath.Dir(p.catalog.Path())
	model := filepath.Join(dir, voice.ModelPath)
	if !isFile(model) {
		return "", apperr.Config("piper", "Piper model not found: %s", model)
	}
	args := []string{"--model", model}
	if voice.ConfigPath != "" {
		cfgPath := filepath.Join(dir, voice.ConfigPath)
		if !isFile(cfgPath) {
			return "", apperr.Config("piper", "Piper config not found: %s", cfgPath)
		}
		args = append(args, "--config", cfgPath)
	}

	out, err := outputPath(p.cfg.OutputDir)
	if err != nil {
		return "", apperr.Transport("piper", err, "Failed to prepare TTS output: %v", err)
	}
	args = append(args, "--output_file", out)

	exe := p.Command()
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Env = p.env(exe)
	cmd.Stdin = strings.NewReader(text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.logger.Debug().Str("voice", voice.VoiceID).Str("exe", exe).Msg("Running piper")
	if err := cmd.Run(); err != nil {
		_ = os.Remove(out)
		if ctx.Err() != nil {
			return "", apperr.Cancelled("piper", ctx.Err())
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return "", apperr.Config("piper", "Piper not found. Bundle it with the app or set PIPER_PATH.")
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "Piper failed to synthesize audio."
		}
		return "", apperr.Transport("piper", err, "%s", apperr.Truncate(msg, apperr.MaxDetail))
	}
	if !isFile(out) {
		return "", apperr.Transport("piper", nil, "Piper completed but audio file was not created.")
	}
	return out, nil
}
