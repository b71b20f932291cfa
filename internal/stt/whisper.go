package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/audio"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/observability"
)

// WhisperConfig locates and tunes the local whisper.cpp executable.
type WhisperConfig struct {
	Path          string // Explicit executable path, searched first
	ModelPath     string // Explicit model file path, searched first
	Model         string // Model name, resolved to ggml-<name>.bin
	NoGPU         bool
	ExtraArgs     []string
	BundledBinDir string
	TempDir       string
	KeepFiles     bool
	Timeout       TimeoutPolicy
}

// WhisperConfigFromConfig maps process configuration onto WhisperConfig.
func WhisperConfigFromConfig(cfg *config.Config) WhisperConfig {
	return WhisperConfig{
		Path:          cfg.WhisperPath,
		ModelPath:     cfg.WhisperModelPath,
		Model:         cfg.WhisperModel,
		NoGPU:         cfg.WhisperNoGPU,
		ExtraArgs:     strings.Fields(cfg.WhisperExtraArgs),
		BundledBinDir: cfg.BundledBinDir,
		TempDir:       cfg.TempDir,
		KeepFiles:     cfg.KeepTempFiles,
		Timeout: TimeoutPolicy{
			Floor:          time.Duration(cfg.WhisperTimeoutFloorMs) * time.Millisecond,
			RealtimeFactor: cfg.WhisperRealtimeFactor,
		},
	}
}

// Whisper transcribes by running whisper.cpp on a temporary WAV file.
type Whisper struct {
	cfg    WhisperConfig
	exists func(string) bool
	logger zerolog.Logger
}

// NewWhisper creates the local backend.
func NewWhisper(cfg WhisperConfig) *Whisper {
	if cfg.Model == "" {
		cfg.Model = "small"
	}
	return &Whisper{
		cfg:    cfg,
		exists: isFile,
		logger: observability.ForComponent("whisper"),
	}
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (w *Whisper) Name() string { return config.STTWhisper }

// ModelFileName returns the on-disk name for a model, e.g. ggml-small.bin.
func ModelFileName(model string) string {
	return "ggml-" + model + ".bin"
}

func exeCandidates(cfg WhisperConfig, home, cwd, goos string) []string {
	var out []string
	if cfg.Path != "" {
		out = append(out, cfg.Path)
	}
	suffix := ""
	if goos == "windows" {
		suffix = ".exe"
	}
	if cfg.BundledBinDir != "" {
		out = append(out,
			filepath.Join(cfg.BundledBinDir, "whisper-cli"+suffix),
			filepath.Join(cfg.BundledBinDir, "whisper"+suffix))
	}
	out = append(out,
		"/usr/local/bin/whisper-cli",
		"/usr/local/bin/whisper",
		"/opt/homebrew/bin/whisper-cli",
		"/opt/homebrew/bin/whisper",
	)
	if home != "" {
		out = append(out, filepath.Join(home, ".local", "bin", "whisper"))
	}
	if cwd != "" {
		out = append(out,
			filepath.Join(cwd, "whisper.cpp", "build", "bin", "whisper-cli"+suffix),
			filepath.Join(cwd, "whisper.cpp", "main"+suffix),
			filepath.Join(cwd, "whisper.cpp", "whisper"+suffix))
	}
	return out
}

func modelCandidates(cfg WhisperConfig, home, cwd string) []string {
	var out []string
	if cfg.ModelPath != "" {
		out = append(out, cfg.ModelPath)
	}
	file := ModelFileName(cfg.Model)
	if home != "" {
		out = append(out,
			filepath.Join(home, ".whisper", file),
			filepath.Join(home, "whisper.cpp", "models", file))
	}
	if cwd != "" {
		out = append(out, filepath.Join(cwd, "whisper.cpp", "models", file))
	}
	return out
}

func firstExisting(paths []string, exists func(string) bool) string {
	for _, p := range paths {
		if exists(p) {
			return p
		}
	}
	return ""
}

// Resolve returns the executable and model paths, or a configuration error
// naming what is missing.
func (w *Whisper) Resolve() (exe, model string, err error) {
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()

	exe = firstExisting(exeCandidates(w.cfg, home, cwd, runtime.GOOS), w.exists)
	if exe == "" {
		return "", "", apperr.Config("whisper",
			"Whisper executable not found. Install whisper.cpp or set WHISPER_PATH.")
	}
	model = firstExisting(modelCandidates(w.cfg, home, cwd), w.exists)
	if model == "" {
		return "", "", apperr.Config("whisper",
			"Whisper model %s not found. Download it to ~/.whisper or set WHISPER_MODEL_PATH.",
			ModelFileName(w.cfg.Model))
	}
	return exe, model, nil
}

// Initialize checks that both executable and model are present.
func (w *Whisper) Initialize(ctx context.Context, snap config.ProviderConfig) error {
	_, _, err := w.Resolve()
	return err
}

// BuildArgs returns the whisper.cpp command line for one file. outBase is the
// output path without the .txt extension.
func (w *Whisper) BuildArgs(model, input, outBase string) []string {
	args := []string{
		"-m", model,
		"-f", input,
		"-of", outBase,
		"-l", "auto",
		"-otxt",
		"--no-timestamps",
	}
	if w.cfg.NoGPU {
		args = append(args, "-ng")
	}
	return append(args, w.cfg.ExtraArgs...)
}

// Transcribe writes wav to a unique temp file, runs whisper.cpp under a
// deadline that scales with the audio length and reads back the .txt output.
func (w *Whisper) Transcribe(ctx context.Context, wav []byte, snap config.ProviderConfig) (string, error) {
	exe, model, err := w.Resolve()
	if err != nil {
		return "", err
	}

	dir := w.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	base := filepath.Join(dir, "voice-notes-"+uuid.New().String())
	input := base + ".wav"
	output := base + ".txt"

	if err := os.WriteFile(input, wav, 0o600); err != nil {
		return "", apperr.Transport("whisper", err, "Failed to write temporary audio file: %v", err)
	}
	if !w.cfg.KeepFiles {
		defer func() {
			_ = os.Remove(input)
			_ = os.Remove(output)
		}()
	}

	duration := audio.Duration(wav)
	timeout := w.cfg.Timeout.For(duration)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, exe, w.BuildArgs(model, input, base)...)
	cmd.WaitDelay = 2 * time.Second
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	w.logger.Debug().
		Str("exe", exe).
		Str("model", model).
		Float64("duration_sec", duration).
		Dur("timeout", timeout).
		Msg("Running whisper")

	runErr := cmd.Run()
	if ctxErr := apperr.FromContext("whisper", ctx, runCtx, runErr,
		fmt.Sprintf("Whisper timed out after %s. Try a smaller model.", timeout)); ctxErr != nil {
		return "", ctxErr
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return "", apperr.Transport("whisper", runErr, "Whisper exited with code %d: %s",
				exitErr.ExitCode(), apperr.Truncate(strings.TrimSpace(stderr.String()), apperr.MaxDetail))
		}
		return "", apperr.Transport("whisper", runErr, "Failed to start whisper: %v", runErr)
	}

	text, err := os.ReadFile(output)
	if err != nil {
		return "", apperr.Transport("whisper", err, "Whisper produced no output file")
	}
	return strings.TrimSpace(string(text)), nil
}
