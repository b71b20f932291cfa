package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/observability"
)

// ProcessConfig selects and tunes the external recording program.
type ProcessConfig struct {
	Program          string // explicit program path or name; empty resolves automatically
	Device           string
	SilenceThreshold string // percent; "0" or empty disables silence trimming
	BundledBinDir    string
}

// ProcessSource records by running sox, rec or arecord and reading its stdout.
type ProcessSource struct {
	cfg    ProcessConfig
	logger zerolog.Logger
}

// NewProcessSource creates a source backed by an external recorder program.
func NewProcessSource(cfg ProcessConfig) *ProcessSource {
	return &ProcessSource{cfg: cfg, logger: observability.ForComponent("capture")}
}

func exeName(name, goos string) string {
	if goos == "windows" {
		return name + ".exe"
	}
	return name
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ResolveProgram picks the recorder executable: an explicit override, then a
// bundled binary, then conventional install locations, then the bare command
// name left to PATH lookup.
func ResolveProgram(override, bundledDir, goos string, exists func(string) bool) string {
	if override != "" {
		return override
	}
	if bundledDir != "" {
		candidate := filepath.Join(bundledDir, exeName("sox", goos))
		if exists(candidate) {
			return candidate
		}
	}

	var candidates []string
	switch goos {
	case "darwin":
		candidates = []string{"/opt/homebrew/bin/sox", "/usr/local/bin/sox", "/usr/bin/sox"}
	case "windows":
		candidates = []string{`C:\Program Files (x86)\sox-14-4-2\sox.exe`, `C:\Program Files\sox\sox.exe`}
	default:
		candidates = []string{"/usr/bin/sox", "/usr/local/bin/sox", "/usr/bin/arecord"}
	}
	for _, c := range candidates {
		if exists(c) {
			return c
		}
	}
	return exeName("sox", goos)
}

func programKind(program string) string {
	base := filepath.Base(program)
	base = base[:len(base)-len(filepath.Ext(base))]
	switch base {
	case "rec", "arecord":
		return base
	default:
		return "sox"
	}
}

func soxDriver(goos string) string {
	switch goos {
	case "darwin":
		return "coreaudio"
	case "windows":
		return "waveaudio"
	default:
		return "alsa"
	}
}

// BuildArgs returns the command line for capturing 16 kHz mono 16-bit PCM
// to stdout with the given program.
func BuildArgs(program, device, silence string, raw bool, goos string) []string {
	audioType := "wav"
	if raw {
		audioType = "raw"
	}
	rate := strconv.Itoa(SampleRate)
	channels := strconv.Itoa(Channels)

	if programKind(program) == "arecord" {
		args := []string{"-q", "-r", rate, "-c", channels, "-t", audioType, "-f", "S16_LE"}
		if device != "" {
			args = append(args, "-D", device)
		}
		return append(args, "-")
	}

	var args []string
	if programKind(program) == "sox" {
		if device != "" {
			args = append(args, "-t", soxDriver(goos), device)
		} else {
			args = append(args, "--default-device")
		}
	}
	args = append(args,
		"--no-show-progress",
		"--rate", rate,
		"--channels", channels,
		"--encoding", "signed-integer",
		"--bits", strconv.Itoa(BitsPerSample),
		"--type", audioType,
		"-",
	)
	if silence != "" && silence != "0" {
		args = append(args, "silence", "1", "0.1", silence+"%", "-1", "1.0", silence+"%")
	}
	return args
}

// Open starts the recorder program.
func (p *ProcessSource) Open(ctx context.Context, opts StartOptions) (Stream, error) {
	program := ResolveProgram(p.cfg.Program, p.cfg.BundledBinDir, runtime.GOOS, fileExists)
	silence := p.cfg.SilenceThreshold
	if opts.SilenceThreshold != "" {
		silence = opts.SilenceThreshold
	}
	args := BuildArgs(program, p.cfg.Device, silence, opts.Raw, runtime.GOOS)
	return startProcess(program, args, p.logger)
}

// processStream reads a recorder's stdout through an os.Pipe so that Wait
// does not close the read end before it is drained.
type processStream struct {
	cmd    *exec.Cmd
	reader *os.File
	done   chan struct{}
	stderr *limitedBuffer
	logger zerolog.Logger
}

func startProcess(program string, args []string, logger zerolog.Logger) (*processStream, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}

	cmd := exec.Command(program, args...)
	cmd.Stdout = w
	stderr := &limitedBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("recorder %q could not be started: %w", program, err)
	}
	w.Close()

	s := &processStream{cmd: cmd, reader: r, done: make(chan struct{}), stderr: stderr, logger: logger}
	go func() {
		err := cmd.Wait()
		if err != nil {
			logger.Debug().Err(err).Str("stderr", stderr.String()).Msg("Recorder exited")
		}
		close(s.done)
	}()

	logger.Debug().Str("program", program).Strs("args", args).Msg("Recorder started")
	return s, nil
}

func (s *processStream) Read(p []byte) (int, error) {
	n, err := s.reader.Read(p)
	if err != nil {
		s.reader.Close()
	}
	return n, err
}

func (s *processStream) Stop() error {
	if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		return s.Kill()
	}
	return nil
}

func (s *processStream) Kill() error {
	return s.cmd.Process.Kill()
}

func (s *processStream) Done() <-chan struct{} {
	return s.done
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
