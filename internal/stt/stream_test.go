package stt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/config"
)

type fakeTransport struct {
	mu        sync.Mutex
	frames    [][]byte
	texts     []string
	incoming  chan []byte
	errs      chan error
	closed    chan struct{}
	closeOnce sync.Once
	// closeOnRequest ends the stream with io.EOF when CloseStream arrives.
	closeOnRequest bool
	eofOnce        sync.Once
}

func newFakeTransport(closeOnRequest bool) *fakeTransport {
	return &fakeTransport{
		incoming:       make(chan []byte, 16),
		errs:           make(chan error, 1),
		closed:         make(chan struct{}),
		closeOnRequest: closeOnRequest,
	}
}

func (f *fakeTransport) WriteAudio(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func (f *fakeTransport) WriteText(msg []byte) error {
	f.mu.Lock()
	f.texts = append(f.texts, string(msg))
	f.mu.Unlock()
	if f.closeOnRequest && strings.Contains(string(msg), "CloseStream") {
		f.eofOnce.Do(func() { close(f.incoming) })
	}
	return nil
}

func (f *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case msg, ok := <-f.incoming:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case err := <-f.errs:
		return nil, err
	case <-f.closed:
		return nil, errors.New("use of closed network connection")
	}
}

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeDialer struct {
	gate      chan struct{}
	transport *fakeTransport
	err       error
	url       string
	header    http.Header
}

func (d *fakeDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Transport, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.url = rawURL
	d.header = header
	if d.err != nil {
		return nil, d.err
	}
	return d.transport, nil
}

func streamSettings(t *testing.T, key string) *config.Settings {
	t.Helper()
	s := newSettings(t, config.STTDeepgramLive)
	if err := s.SetCredential(config.STTDeepgram, key); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}
	return s
}

func newTestSession(t *testing.T, dialer Dialer, timeout time.Duration) *StreamingSession {
	t.Helper()
	return NewStreamingSession(StreamConfig{
		Model:        "nova-2",
		Language:     "en",
		CloseTimeout: timeout,
		Dialer:       dialer,
	}, streamSettings(t, "secret"))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func result(text string, final bool) []byte {
	f := "false"
	if final {
		f = "true"
	}
	return []byte(`{"type":"Results","is_final":` + f + `,"channel":{"alternatives":[{"transcript":"` + text + `"}]}}`)
}

func TestStreamingQueuesAudioUntilOpen(t *testing.T) {
	transport := newFakeTransport(true)
	dialer := &fakeDialer{gate: make(chan struct{}), transport: transport}
	s := newTestSession(t, dialer, time.Second)

	if err := s.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	frames := [][]byte{{1, 1}, {2, 2}, {3, 3}}
	for _, f := range frames[:2] {
		if err := s.SendAudio(f); err != nil {
			t.Fatalf("SendAudio() before open error = %v", err)
		}
	}
	if transport.frameCount() != 0 {
		t.Fatal("frames written before the connection opened")
	}

	close(dialer.gate)
	waitFor(t, "queued frames to flush", func() bool { return transport.frameCount() == 2 })

	if err := s.SendAudio(frames[2]); err != nil {
		t.Fatalf("SendAudio() after open error = %v", err)
	}

	transport.mu.Lock()
	for i, f := range transport.frames {
		if !bytes.Equal(f, frames[i]) {
			t.Errorf("frame %d = %v, want %v", i, f, frames[i])
		}
	}
	transport.mu.Unlock()

	if _, err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := dialer.header.Get("Authorization"); got != "Token secret" {
		t.Errorf("Authorization = %q", got)
	}
	for _, want := range []string{"model=nova-2", "encoding=linear16", "sample_rate=16000", "interim_results=true"} {
		if !strings.Contains(dialer.url, want) {
			t.Errorf("stream URL %q missing %q", dialer.url, want)
		}
	}
}

func TestStreamingAccumulatesFinalSegments(t *testing.T) {
	transport := newFakeTransport(true)
	s := newTestSession(t, &fakeDialer{transport: transport}, time.Second)

	type update struct {
		text  string
		final bool
	}
	var mu sync.Mutex
	var updates []update
	onUpdate := func(text string, isFinal bool) {
		mu.Lock()
		updates = append(updates, update{text, isFinal})
		mu.Unlock()
	}

	if err := s.Start(context.Background(), onUpdate, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	transport.incoming <- result("hel", false)
	transport.incoming <- result("hello", false)
	transport.incoming <- result("hello world", true)
	transport.incoming <- []byte(`{"type":"UtteranceEnd"}`)
	transport.incoming <- result("how", false)
	transport.incoming <- result("how are you", true)

	waitFor(t, "updates", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(updates) == 5
	})

	text, err := s.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if text != "hello world how are you" {
		t.Errorf("Stop() = %q", text)
	}

	want := []update{
		{"hel", false},
		{"hello", false},
		{"hello world", true},
		{"hello world how", false},
		{"hello world how are you", true},
	}
	mu.Lock()
	defer mu.Unlock()
	for i, u := range want {
		if updates[i] != u {
			t.Errorf("update %d = %+v, want %+v", i, updates[i], u)
		}
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.texts) != 1 || transport.texts[0] != `{"type":"CloseStream"}` {
		t.Errorf("control messages = %v", transport.texts)
	}
}

func TestStreamingStopFallsBackToInterimText(t *testing.T) {
	transport := newFakeTransport(true)
	s := newTestSession(t, &fakeDialer{transport: transport}, time.Second)

	var got string
	var mu sync.Mutex
	if err := s.Start(context.Background(), func(text string, _ bool) {
		mu.Lock()
		got = text
		mu.Unlock()
	}, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	transport.incoming <- result("only partial", false)
	waitFor(t, "interim update", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == "only partial"
	})

	text, err := s.Stop(context.Background())
	if err != nil || text != "only partial" {
		t.Errorf("Stop() = %q, %v", text, err)
	}
}

func TestStreamingStopForcesCloseAfterTimeout(t *testing.T) {
	transport := newFakeTransport(false)
	s := newTestSession(t, &fakeDialer{transport: transport}, 100*time.Millisecond)

	if err := s.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	transport.incoming <- result("kept", true)
	waitFor(t, "final segment", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.final == "kept"
	})

	start := time.Now()
	text, err := s.Stop(context.Background())
	if err != nil || text != "kept" {
		t.Errorf("Stop() = %q, %v", text, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop() took %v, expected forced close near timeout", elapsed)
	}
	select {
	case <-transport.closed:
	default:
		t.Error("transport not closed after forced stop")
	}
	if s.IsActive() {
		t.Error("session still active after Stop()")
	}
}

func TestStreamingStopBeforeSlowOpen(t *testing.T) {
	transport := newFakeTransport(true)
	gate := make(chan struct{})
	s := newTestSession(t, &fakeDialer{gate: gate, transport: transport}, 100*time.Millisecond)

	if err := s.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.SendAudio([]byte{1, 2}); err != nil {
		t.Fatalf("SendAudio() error = %v", err)
	}

	type stopResult struct {
		text string
		err  error
	}
	stopped := make(chan stopResult, 1)
	go func() {
		text, err := s.Stop(context.Background())
		stopped <- stopResult{text, err}
	}()

	// the connection opens only after the close timeout has passed
	time.Sleep(200 * time.Millisecond)
	close(gate)

	select {
	case res := <-stopped:
		if res.err != nil || res.text != "" {
			t.Errorf("Stop() = %q, %v", res.text, res.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() still blocked well past the close timeout")
	}

	select {
	case <-transport.closed:
	case <-time.After(time.Second):
		t.Error("late connection not closed")
	}
	if s.IsActive() {
		t.Error("session still active after Stop()")
	}
}

func TestStreamingConnectionErrorClearsState(t *testing.T) {
	transport := newFakeTransport(false)
	s := newTestSession(t, &fakeDialer{transport: transport}, time.Second)

	errCh := make(chan error, 1)
	if err := s.Start(context.Background(), nil, func(err error) { errCh <- err }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "connection open", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.open
	})
	transport.errs <- errors.New("connection reset by peer")

	select {
	case err := <-errCh:
		if !strings.Contains(err.Error(), "connection reset") {
			t.Errorf("onError got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onError not called")
	}
	if s.IsActive() {
		t.Error("session still active after connection error")
	}
	if err := s.SendAudio([]byte{1}); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("SendAudio() after failure error = %v", err)
	}
	if _, err := s.Stop(context.Background()); err == nil {
		t.Error("Stop() after failure should report the connection error")
	}

	// A new session can start after the failure.
	s.cfg.Dialer = &fakeDialer{transport: newFakeTransport(true)}
	if err := s.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if _, err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop() after restart error = %v", err)
	}
}

func TestStreamingErrorDuringStopRejectsIt(t *testing.T) {
	transport := newFakeTransport(false)
	s := newTestSession(t, &fakeDialer{transport: transport}, 2*time.Second)

	if err := s.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, "connection open", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.open
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		transport.errs <- errors.New("abnormal closure")
	}()
	if _, err := s.Stop(context.Background()); err == nil {
		t.Error("Stop() error = nil, want connection error")
	}
}

func TestStreamingDialFailure(t *testing.T) {
	s := newTestSession(t, &fakeDialer{err: errors.New("401 unauthorized")}, time.Second)
	errCh := make(chan error, 1)
	if err := s.Start(context.Background(), nil, func(err error) { errCh <- err }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	select {
	case err := <-errCh:
		if apperr.KindOf(err) != apperr.KindTransport {
			t.Errorf("dial error kind = %v", apperr.KindOf(err))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onError not called for dial failure")
	}
}

func TestStreamingRequiresKey(t *testing.T) {
	s := NewStreamingSession(StreamConfig{Dialer: &fakeDialer{}}, streamSettings(t, ""))
	err := s.Start(context.Background(), nil, nil)
	if !apperr.IsConfig(err) || err.Error() != "Deepgram API key not configured." {
		t.Errorf("Start() error = %v", err)
	}
}

func TestStreamingRejectsSecondStart(t *testing.T) {
	s := newTestSession(t, &fakeDialer{transport: newFakeTransport(true)}, time.Second)
	if err := s.Start(context.Background(), nil, nil); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop(context.Background())

	if err := s.Start(context.Background(), nil, nil); !errors.Is(err, ErrStreamActive) {
		t.Errorf("second Start() error = %v, want ErrStreamActive", err)
	}
}

func TestStreamingStopWithoutStart(t *testing.T) {
	s := newTestSession(t, &fakeDialer{}, time.Second)
	if _, err := s.Stop(context.Background()); !errors.Is(err, ErrNotStreaming) {
		t.Errorf("Stop() error = %v, want ErrNotStreaming", err)
	}
}
