package pipeline

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/audio"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/events"
	"github.com/lexiqai/voice-notes/internal/llm"
	"github.com/lexiqai/voice-notes/internal/stt"
)

// fakeStream delivers pushed chunks to Read and ends when stopped.
type fakeStream struct {
	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (f *fakeStream) Read(p []byte) (int, error) {
	select {
	case c := <-f.chunks:
		return copy(p, c), nil
	case <-f.done:
		select {
		case c := <-f.chunks:
			return copy(p, c), nil
		default:
			return 0, io.EOF
		}
	}
}

func (f *fakeStream) Stop() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeStream) Kill() error           { return f.Stop() }
func (f *fakeStream) Done() <-chan struct{} { return f.done }

type fakeSource struct {
	mu      sync.Mutex
	streams []*fakeStream
	opts    []audio.StartOptions
}

func (s *fakeSource) Open(ctx context.Context, opts audio.StartOptions) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &fakeStream{chunks: make(chan []byte, 256), done: make(chan struct{})}
	s.streams = append(s.streams, st)
	s.opts = append(s.opts, opts)
	return st, nil
}

func (s *fakeSource) push(chunk []byte) {
	s.mu.Lock()
	st := s.streams[len(s.streams)-1]
	s.mu.Unlock()
	st.chunks <- chunk
}

type fakeTranscriber struct {
	mu   sync.Mutex
	text string
	err  error
	got  [][]byte
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, wav)
	return f.text, f.err
}

func (f *fakeTranscriber) SelfTest(ctx context.Context) (string, error) {
	return f.Transcribe(ctx, audio.WrapPCM(make([]byte, audio.SampleRate*audio.BytesPerSample)))
}

func (f *fakeTranscriber) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

type fakeEnricher struct {
	enrichErr error
	asked     chan string
}

func (f *fakeEnricher) Enrich(ctx context.Context, text, presetName string) (*llm.EnrichedResult, error) {
	if f.enrichErr != nil {
		return nil, f.enrichErr
	}
	res := llm.ParseOutput("Summary:\nA short test.\n", llm.TypeQuickNotes)
	res.Original = text
	return &res, nil
}

func (f *fakeEnricher) AskQuestion(ctx context.Context, transcript, question string) (string, error) {
	if question == "slow" {
		f.asked <- question
		<-ctx.Done()
		return "", apperr.Cancelled("ask", ctx.Err())
	}
	return "answer: " + question, nil
}

type fakeStreamer struct {
	mu       sync.Mutex
	frames   [][]byte
	onUpdate stt.UpdateFunc
	active   bool
	text     string
	stops    int
}

func (f *fakeStreamer) Start(ctx context.Context, onUpdate stt.UpdateFunc, onError func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return stt.ErrStreamActive
	}
	f.active = true
	f.onUpdate = onUpdate
	return nil
}

func (f *fakeStreamer) SendAudio(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return stt.ErrNotStreaming
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeStreamer) Stop(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if !f.active {
		return "", stt.ErrNotStreaming
	}
	f.active = false
	return f.text, nil
}

type recorded struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorded) add(ev events.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorded) names() []events.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Name, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

func (r *recorded) count(name events.Name) int {
	n := 0
	for _, got := range r.names() {
		if got == name {
			n++
		}
	}
	return n
}

type harness struct {
	ctrl     *Controller
	main     *fakeSource
	chat     *fakeSource
	stt      *fakeTranscriber
	llm      *fakeEnricher
	stream   *fakeStreamer
	settings *config.Settings
	bus      *events.Bus
	events   *recorded
}

func newHarness(t *testing.T, provider string) *harness {
	t.Helper()
	h := &harness{
		main:     &fakeSource{},
		chat:     &fakeSource{},
		stt:      &fakeTranscriber{},
		llm:      &fakeEnricher{asked: make(chan string, 1)},
		stream:   &fakeStreamer{},
		settings: config.NewSettings(&config.Config{STTProvider: provider, ActivePreset: "quick_notes"}),
		bus:      events.NewBus(),
		events:   &recorded{},
	}
	h.bus.SubscribeAll(h.events.add)
	h.ctrl = New(Deps{
		Main:     audio.NewRecorder(audio.SlotMain, h.main, 50*time.Millisecond),
		Chat:     audio.NewRecorder(audio.SlotChat, h.chat, 50*time.Millisecond),
		Stream:   h.stream,
		STT:      h.stt,
		LLM:      h.llm,
		Settings: h.settings,
		Bus:      h.bus,
	})
	t.Cleanup(func() { h.ctrl.Close(context.Background()) })
	return h
}

func TestSilentRecordingTranscribesToEmpty(t *testing.T) {
	h := newHarness(t, config.STTWhisper)
	ctx := context.Background()

	if started, err := h.ctrl.StartRecording(ctx); !started || err != nil {
		t.Fatalf("StartRecording() = %v, %v", started, err)
	}
	// Two seconds of silence in 100 ms frames.
	for i := 0; i < 20; i++ {
		h.main.push(make([]byte, audio.SampleRate/10*audio.BytesPerSample))
	}

	text, err := h.ctrl.StopRecording(ctx)
	if err != nil || text != "" {
		t.Fatalf("StopRecording() = %q, %v; want empty transcript", text, err)
	}
	if h.stt.calls() != 1 {
		t.Fatalf("Transcribe calls = %d", h.stt.calls())
	}
	if d := audio.Duration(h.stt.got[0]); math.Abs(d-2.0) > 0.01 {
		t.Errorf("transcribed duration = %.3f, want 2s", d)
	}

	want := []events.Name{
		events.RecordingStarted,
		events.RecordingStopped,
		events.ProcessingStageChanged,
		events.TranscriptionFinal,
		events.ProcessingStageChanged,
	}
	got := h.events.names()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestSlotExclusivity(t *testing.T) {
	h := newHarness(t, config.STTWhisper)
	ctx := context.Background()
	h.stt.text = "main text"

	if started, _ := h.ctrl.StartRecording(ctx); !started {
		t.Fatal("first start failed")
	}
	h.main.push([]byte{1, 0, 2, 0})
	if started, err := h.ctrl.StartRecording(ctx); started || err != nil {
		t.Errorf("second StartRecording() = %v, %v; want false, nil", started, err)
	}
	if started, err := h.ctrl.StartChatRecording(ctx); !started || err != nil {
		t.Errorf("StartChatRecording() = %v, %v while main records", started, err)
	}

	status := h.ctrl.Status()
	if status.Main != "recording" || status.Chat != "recording" {
		t.Errorf("Status() = %+v", status)
	}

	if _, err := h.ctrl.StopRecording(ctx); err != nil {
		t.Fatal(err)
	}
	if pcm := audio.PCMData(h.stt.got[0]); len(pcm) != 4 || pcm[0] != 1 || pcm[2] != 2 {
		t.Errorf("main buffer = %v, want untouched first session", pcm)
	}
	if !h.ctrl.deps.Chat.IsRecording() {
		t.Error("stopping main stopped chat")
	}
	if err := h.ctrl.CancelChatRecording(ctx); err != nil {
		t.Errorf("CancelChatRecording() error = %v", err)
	}
}

func TestWrongSlot(t *testing.T) {
	h := newHarness(t, config.STTWhisper)
	ctx := context.Background()

	if _, err := h.ctrl.StopRecording(ctx); !errors.Is(err, ErrWrongSlot) {
		t.Errorf("StopRecording() idle error = %v", err)
	}
	if _, err := h.ctrl.StopChatRecording(ctx); !errors.Is(err, ErrWrongSlot) {
		t.Errorf("StopChatRecording() idle error = %v", err)
	}

	if _, err := h.ctrl.StartChatRecording(ctx); err != nil {
		t.Fatal(err)
	}
	err := h.ctrl.CancelRecording(ctx)
	if !errors.Is(err, ErrWrongSlot) || err.Error() != "main slot: "+ErrWrongSlot.Error() {
		t.Errorf("CancelRecording() with only chat active error = %v", err)
	}
	if !h.ctrl.deps.Chat.IsRecording() {
		t.Error("chat recording was disturbed")
	}
}

func TestToggleMainRecording(t *testing.T) {
	h := newHarness(t, config.STTWhisper)
	ctx := context.Background()
	h.stt.text = "toggled"

	res, err := h.ctrl.ToggleMainRecording(ctx)
	if err != nil || !res.Started {
		t.Fatalf("first toggle = %+v, %v", res, err)
	}
	res, err = h.ctrl.ToggleMainRecording(ctx)
	if err != nil || res.Started || res.Transcript != "toggled" {
		t.Fatalf("second toggle = %+v, %v", res, err)
	}

	if _, err := h.ctrl.StartChatRecording(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ctrl.ToggleMainRecording(ctx); !errors.Is(err, ErrChatActive) {
		t.Errorf("toggle during chat error = %v", err)
	}
	if h.ctrl.deps.Main.IsRecording() {
		t.Error("toggle started main while chat was recording")
	}
}

func TestStreamingRecording(t *testing.T) {
	h := newHarness(t, config.STTDeepgramLive)
	ctx := context.Background()
	h.stream.text = "live transcript"

	if started, err := h.ctrl.StartRecording(ctx); !started || err != nil {
		t.Fatalf("StartRecording() = %v, %v", started, err)
	}
	if !h.main.opts[0].Raw {
		t.Error("streaming capture should request raw PCM")
	}
	h.main.push([]byte{1, 1})
	h.main.push([]byte{2, 2})
	h.stream.onUpdate("live", false)

	text, err := h.ctrl.StopRecording(ctx)
	if err != nil || text != "live transcript" {
		t.Fatalf("StopRecording() = %q, %v", text, err)
	}
	if h.stt.calls() != 0 {
		t.Error("batch transcription used while streaming")
	}
	if len(h.stream.frames) != 2 || h.stream.frames[0][0] != 1 || h.stream.frames[1][0] != 2 {
		t.Errorf("streamed frames = %v", h.stream.frames)
	}
	if h.events.count(events.TranscriptionPartial) != 1 {
		t.Errorf("partial events = %d", h.events.count(events.TranscriptionPartial))
	}
	if h.ctrl.Status().Streaming {
		t.Error("streaming flag left set after stop")
	}
}

func TestConcurrentStreamingStartIsNoop(t *testing.T) {
	h := newHarness(t, config.STTDeepgramLive)
	// another start already holds the stream but has not opened capture yet
	h.stream.active = true

	started, err := h.ctrl.StartRecording(context.Background())
	if started || err != nil {
		t.Fatalf("StartRecording() = %v, %v, want false, nil", started, err)
	}
	if h.ctrl.Status().Main != audio.StateIdle.String() {
		t.Errorf("main slot = %s, want idle", h.ctrl.Status().Main)
	}
	if h.stream.stops != 0 || !h.stream.active {
		t.Error("losing start must leave the winner's stream alone")
	}
	if len(h.main.opts) != 0 {
		t.Error("losing start opened the capture source")
	}
}

func TestCancelStreamingRecording(t *testing.T) {
	h := newHarness(t, config.STTDeepgramLive)
	ctx := context.Background()

	if _, err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.CancelRecording(ctx); err != nil {
		t.Fatalf("CancelRecording() error = %v", err)
	}
	if h.stream.stops != 1 || h.stream.active {
		t.Errorf("stream not stopped on cancel (stops=%d)", h.stream.stops)
	}
	if _, err := h.ctrl.StartRecording(ctx); err != nil {
		t.Errorf("restart after cancel error = %v", err)
	}
}

func TestAutoEnrich(t *testing.T) {
	h := newHarness(t, config.STTWhisper)
	h.stt.text = "This is a test text for enrichment."
	h.settings.SetAutoEnrich(true)

	ready := make(chan *llm.EnrichedResult, 1)
	h.bus.Subscribe(events.EnrichmentReady, func(ev events.Event) {
		ready <- ev.Payload.(*llm.EnrichedResult)
	})

	ctx := context.Background()
	if _, err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ctrl.StopRecording(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-ready:
		if res.Structured.Summary != "A short test." || res.Original != h.stt.text {
			t.Errorf("enrichment = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("enrichment-ready not published")
	}
}

func TestAskQuestionCancelsPrevious(t *testing.T) {
	h := newHarness(t, config.STTWhisper)
	ctx := context.Background()

	firstErr := make(chan error, 1)
	go func() {
		_, err := h.ctrl.AskQuestion(ctx, "transcript", "slow")
		firstErr <- err
	}()
	<-h.llm.asked

	answer, err := h.ctrl.AskQuestion(ctx, "transcript", "what next?")
	if err != nil || answer != "answer: what next?" {
		t.Fatalf("AskQuestion() = %q, %v", answer, err)
	}
	if err := <-firstErr; !apperr.IsCancelled(err) {
		t.Errorf("superseded question error = %v, want cancellation", err)
	}
	if h.events.count(events.ProcessingError) != 0 {
		t.Error("cancellation reported as a processing error")
	}
}

func TestCancelQuestion(t *testing.T) {
	h := newHarness(t, config.STTWhisper)

	if h.ctrl.CancelQuestion() {
		t.Error("CancelQuestion() with nothing running = true")
	}

	errc := make(chan error, 1)
	go func() {
		_, err := h.ctrl.AskQuestion(context.Background(), "transcript", "slow")
		errc <- err
	}()
	<-h.llm.asked

	if !h.ctrl.CancelQuestion() {
		t.Error("CancelQuestion() = false while asking")
	}
	select {
	case err := <-errc:
		if !apperr.IsCancelled(err) {
			t.Errorf("AskQuestion() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("question not cancelled")
	}
}

func TestEnrichFailurePublishesError(t *testing.T) {
	h := newHarness(t, config.STTWhisper)
	h.llm.enrichErr = apperr.Config("enrich", "Preset 'missing' not found")

	if _, err := h.ctrl.Enrich(context.Background(), "text", "missing"); err == nil {
		t.Fatal("Enrich() error = nil")
	}
	if h.events.count(events.ProcessingError) != 1 {
		t.Errorf("events = %v", h.events.names())
	}

	if _, err := h.ctrl.Enrich(context.Background(), "  ", ""); !apperr.IsConfig(err) {
		t.Errorf("Enrich(empty) error = %v", err)
	}
}

func TestSelfTests(t *testing.T) {
	h := newHarness(t, config.STTWhisper)

	if _, err := h.ctrl.TestTranscription(context.Background()); err != nil {
		t.Errorf("TestTranscription() error = %v", err)
	}
	if d := audio.Duration(h.stt.got[0]); d != 1.0 {
		t.Errorf("self-test duration = %v", d)
	}
	res, err := h.ctrl.TestEnrichment(context.Background())
	if err != nil || res.Original != llm.TestText {
		t.Errorf("TestEnrichment() = %+v, %v", res, err)
	}
	if _, err := h.ctrl.Speak(context.Background(), "hi", "en"); !apperr.IsConfig(err) {
		t.Errorf("Speak() without TTS error = %v", err)
	}
}
