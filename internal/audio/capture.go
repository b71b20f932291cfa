package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/observability"
)

// ErrNotRecording is returned by Stop when the slot has no open session.
var ErrNotRecording = errors.New("no recording in progress")

// Slot names an independent capture context.
type Slot string

const (
	SlotMain Slot = "main"
	SlotChat Slot = "chat"
)

// State is the lifecycle state of a Recorder.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// StartOptions tune one recording.
type StartOptions struct {
	// OnData receives every chunk synchronously as it is read.
	OnData func(chunk []byte)
	// Raw asks the backend for headerless PCM instead of a WAV stream.
	Raw bool
	// SilenceThreshold overrides the configured threshold when non-empty.
	SilenceThreshold string
}

// Stream is an open capture handle. Read returns io.EOF once the backend
// has released the device.
type Stream interface {
	io.Reader
	// Stop asks the backend to finish gracefully.
	Stop() error
	// Kill terminates the backend immediately.
	Kill() error
	// Done is closed when the backend has exited.
	Done() <-chan struct{}
}

// Source opens capture streams.
type Source interface {
	Open(ctx context.Context, opts StartOptions) (Stream, error)
}

type session struct {
	stream   Stream
	onData   func([]byte)
	started  time.Time
	stopping atomic.Bool
	readDone chan struct{}

	mu     sync.Mutex
	chunks [][]byte
}

// Recorder owns one capture slot. At most one session is open at a time.
type Recorder struct {
	slot   Slot
	source Source
	grace  time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	session *session
}

// NewRecorder creates a recorder for slot. grace bounds how long Stop waits
// for the backend to exit before killing it.
func NewRecorder(slot Slot, source Source, grace time.Duration) *Recorder {
	if grace <= 0 {
		grace = 800 * time.Millisecond
	}
	return &Recorder{
		slot:   slot,
		source: source,
		grace:  grace,
		logger: observability.ForComponent("capture").With().Str("slot", string(slot)).Logger(),
	}
}

// Slot returns the slot this recorder owns.
func (r *Recorder) Slot() Slot {
	return r.slot
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsRecording reports whether a session is open on the slot.
func (r *Recorder) IsRecording() bool {
	return r.State() != StateIdle
}

// Start opens a session. It returns false without error when the slot is
// already busy; the running session is left untouched.
func (r *Recorder) Start(ctx context.Context, opts StartOptions) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != StateIdle {
		r.logger.Warn().Str("state", r.state.String()).Msg("Recording already in progress")
		return false, nil
	}

	stream, err := r.source.Open(ctx, opts)
	if err != nil {
		return false, fmt.Errorf("failed to start %s recording: %w", r.slot, err)
	}

	s := &session{
		stream:   stream,
		onData:   opts.OnData,
		started:  time.Now(),
		readDone: make(chan struct{}),
	}
	r.session = s
	r.state = StateRecording
	go r.pump(s)

	observability.RecordingStarted(string(r.slot))
	r.logger.Info().Bool("raw", opts.Raw).Msg("Recording started")
	return true, nil
}

func (r *Recorder) pump(s *session) {
	defer close(s.readDone)

	buf := make([]byte, 4096)
	for {
		n, err := s.stream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.mu.Lock()
			s.chunks = append(s.chunks, chunk)
			s.mu.Unlock()
			if s.onData != nil {
				s.onData(chunk)
			}
		}
		if err != nil {
			if err != io.EOF && !s.stopping.Load() {
				r.logger.Error().Err(err).Msg("Capture stream error")
				observability.RecordError("capture", string(r.slot))
			}
			return
		}
	}
}

// Stop ends the session and returns the captured audio framed as canonical
// WAV. It returns only after the backend has released the device, killing
// it when it does not exit within the grace period.
func (r *Recorder) Stop(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return nil, fmt.Errorf("%s slot: %w", r.slot, ErrNotRecording)
	}
	s := r.session
	r.state = StateStopping
	r.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.chunks = nil
		s.mu.Unlock()

		r.mu.Lock()
		r.session = nil
		r.state = StateIdle
		r.mu.Unlock()
	}()

	s.stopping.Store(true)
	if err := s.stream.Stop(); err != nil {
		r.logger.Debug().Err(err).Msg("Graceful stop signal failed")
	}

	r.awaitRelease(ctx, s)

	s.mu.Lock()
	total := 0
	for _, c := range s.chunks {
		total += len(c)
	}
	raw := make([]byte, 0, total)
	for _, c := range s.chunks {
		raw = append(raw, c...)
	}
	s.mu.Unlock()

	observability.RecordingStopped(string(r.slot), s.started, len(raw))

	framed := EnsureWAVHeader(raw)
	l := ComputeLoudness(framed)
	r.logger.Info().
		Int("bytes", len(framed)).
		Float64("peak", l.PeakAbs).
		Float64("rms", l.RMS).
		Float64("duration_sec", l.DurationSec).
		Msg("Recording stopped")

	return framed, nil
}

// awaitRelease waits for the backend to exit and the reader to drain.
func (r *Recorder) awaitRelease(ctx context.Context, s *session) {
	timer := time.NewTimer(r.grace)
	defer timer.Stop()

	select {
	case <-s.stream.Done():
	case <-timer.C:
		r.logger.Warn().Dur("grace", r.grace).Msg("Capture backend did not exit in time, killing it")
		r.kill(s)
	case <-ctx.Done():
		r.kill(s)
	}

	drain := time.NewTimer(r.grace)
	defer drain.Stop()
	select {
	case <-s.readDone:
	case <-drain.C:
		r.logger.Warn().Msg("Capture reader did not drain after backend exit")
	}
}

func (r *Recorder) kill(s *session) {
	if err := s.stream.Kill(); err != nil {
		r.logger.Debug().Err(err).Msg("Kill failed")
	}
	select {
	case <-s.stream.Done():
	case <-time.After(r.grace):
		r.logger.Error().Msg("Capture backend still running after kill")
	}
}

// Cancel stops the session and discards the audio. Cancelling an idle slot
// is a no-op.
func (r *Recorder) Cancel(ctx context.Context) error {
	if !r.IsRecording() {
		return nil
	}
	_, err := r.Stop(ctx)
	if errors.Is(err, ErrNotRecording) {
		return nil
	}
	return err
}
