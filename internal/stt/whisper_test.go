package stt

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/audio"
	"github.com/lexiqai/voice-notes/internal/config"
)

const fakeWhisperScript = `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    -of) out="$2"; shift ;;
  esac
  shift
done
%s
`

// writeFakeWhisper installs a shell script standing in for whisper.cpp and an
// empty model file, returning a config pointing at both.
func writeFakeWhisper(t *testing.T, body string) WhisperConfig {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	dir := t.TempDir()
	exe := filepath.Join(dir, "whisper")
	script := strings.Replace(fakeWhisperScript, "%s", body, 1)
	if err := os.WriteFile(exe, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	model := filepath.Join(dir, ModelFileName("tiny"))
	if err := os.WriteFile(model, []byte("model"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return WhisperConfig{
		Path:      exe,
		ModelPath: model,
		Model:     "tiny",
		TempDir:   dir,
		Timeout:   TimeoutPolicy{Floor: 5 * time.Second, RealtimeFactor: 3},
	}
}

func TestWhisperTranscribe(t *testing.T) {
	cfg := writeFakeWhisper(t, `printf ' hello from whisper \n' > "$out.txt"`)
	w := NewWhisper(cfg)

	text, err := w.Transcribe(context.Background(), audio.WrapPCM(make([]byte, 3200)), config.ProviderConfig{})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "hello from whisper" {
		t.Errorf("Transcribe() = %q", text)
	}

	leftovers, _ := filepath.Glob(filepath.Join(cfg.TempDir, "voice-notes-*"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files not removed: %v", leftovers)
	}
}

func TestWhisperKeepsFilesWhenConfigured(t *testing.T) {
	cfg := writeFakeWhisper(t, `printf 'kept' > "$out.txt"`)
	cfg.KeepFiles = true
	w := NewWhisper(cfg)

	if _, err := w.Transcribe(context.Background(), audio.WrapPCM(make([]byte, 320)), config.ProviderConfig{}); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(cfg.TempDir, "voice-notes-*"))
	if len(leftovers) != 2 {
		t.Errorf("expected wav and txt to be kept, got %v", leftovers)
	}
}

func TestRouterWithWhisperOnSilence(t *testing.T) {
	cfg := writeFakeWhisper(t, `: > "$out.txt"`)
	settings := newSettings(t, config.STTWhisper)
	r := NewRouter(settings, map[string]Backend{config.STTWhisper: NewWhisper(cfg)})

	silence := make([]byte, 2*audio.SampleRate*audio.BytesPerSample)
	text, err := r.Transcribe(context.Background(), silence)
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "" {
		t.Errorf("Transcribe() on silence = %q, want empty", text)
	}
}

func TestWhisperNonZeroExit(t *testing.T) {
	cfg := writeFakeWhisper(t, `echo "failed to load model" >&2; exit 3`)
	w := NewWhisper(cfg)

	_, err := w.Transcribe(context.Background(), audio.WrapPCM(make([]byte, 320)), config.ProviderConfig{})
	if err == nil {
		t.Fatal("Transcribe() error = nil, want failure")
	}
	if !strings.Contains(err.Error(), "code 3") || !strings.Contains(err.Error(), "failed to load model") {
		t.Errorf("error %q should carry exit code and stderr", err)
	}
}

func TestWhisperTimeout(t *testing.T) {
	cfg := writeFakeWhisper(t, `exec sleep 5`)
	cfg.Timeout = TimeoutPolicy{Floor: 200 * time.Millisecond, RealtimeFactor: 0}
	w := NewWhisper(cfg)

	_, err := w.Transcribe(context.Background(), audio.WrapPCM(make([]byte, 320)), config.ProviderConfig{})
	if !apperr.IsTimeout(err) {
		t.Errorf("Transcribe() error = %v, want timeout", err)
	}
}

func TestWhisperCancelledByCaller(t *testing.T) {
	cfg := writeFakeWhisper(t, `exec sleep 5`)
	w := NewWhisper(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := w.Transcribe(ctx, audio.WrapPCM(make([]byte, 320)), config.ProviderConfig{})
	if !apperr.IsCancelled(err) {
		t.Errorf("Transcribe() error = %v, want cancellation", err)
	}
}

func TestWhisperMissingExecutable(t *testing.T) {
	w := NewWhisper(WhisperConfig{Model: "tiny"})
	w.exists = func(string) bool { return false }

	err := w.Initialize(context.Background(), config.ProviderConfig{})
	if !apperr.IsConfig(err) || !strings.Contains(err.Error(), "WHISPER_PATH") {
		t.Errorf("Initialize() error = %v, want config error naming WHISPER_PATH", err)
	}
}

func TestWhisperMissingModel(t *testing.T) {
	w := NewWhisper(WhisperConfig{Path: "/bin/whisper", Model: "base"})
	w.exists = func(p string) bool { return p == "/bin/whisper" }

	err := w.Initialize(context.Background(), config.ProviderConfig{})
	if !apperr.IsConfig(err) || !strings.Contains(err.Error(), "ggml-base.bin") {
		t.Errorf("Initialize() error = %v, want config error naming the model file", err)
	}
}

func TestWhisperBuildArgs(t *testing.T) {
	w := NewWhisper(WhisperConfig{NoGPU: true, ExtraArgs: []string{"-t", "4"}})
	got := w.BuildArgs("m.bin", "in.wav", "out")
	want := []string{"-m", "m.bin", "-f", "in.wav", "-of", "out", "-l", "auto", "-otxt", "--no-timestamps", "-ng", "-t", "4"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BuildArgs() = %v, want %v", got, want)
	}
}

func TestExeCandidatesOrder(t *testing.T) {
	got := exeCandidates(WhisperConfig{Path: "/custom/whisper", BundledBinDir: "/app/bin"}, "/home/u", "/work", "linux")
	if got[0] != "/custom/whisper" {
		t.Errorf("first candidate = %q, want explicit path", got[0])
	}
	if got[1] != filepath.Join("/app/bin", "whisper-cli") {
		t.Errorf("second candidate = %q, want bundled binary", got[1])
	}
	if last := got[len(got)-1]; last != filepath.Join("/work", "whisper.cpp", "whisper") {
		t.Errorf("last candidate = %q", last)
	}
}
