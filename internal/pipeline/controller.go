// Package pipeline composes capture, transcription, enrichment and speech
// into the operations the control API and CLI expose.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/audio"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/events"
	"github.com/lexiqai/voice-notes/internal/llm"
	"github.com/lexiqai/voice-notes/internal/observability"
	"github.com/lexiqai/voice-notes/internal/stt"
)

// ErrWrongSlot is returned for a slot-specific action against a slot that
// has no recording.
var ErrWrongSlot = errors.New("no recording in progress on this slot")

// ErrChatActive is returned by ToggleMainRecording while the chat slot records.
var ErrChatActive = errors.New("Chat recording in progress")

// Transcriber turns a captured buffer into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
	SelfTest(ctx context.Context) (string, error)
}

// Enricher runs transcripts through the language model.
type Enricher interface {
	Enrich(ctx context.Context, text, presetName string) (*llm.EnrichedResult, error)
	AskQuestion(ctx context.Context, transcript, question string) (string, error)
}

// Speaker synthesizes text to a WAV file.
type Speaker interface {
	Synthesize(ctx context.Context, text, language string) (string, error)
}

// Streamer is a live transcription session fed while the main slot records.
type Streamer interface {
	Start(ctx context.Context, onUpdate stt.UpdateFunc, onError func(error)) error
	SendAudio(frame []byte) error
	Stop(ctx context.Context) (string, error)
}

// Deps are the owned instances a Controller composes.
type Deps struct {
	Main     *audio.Recorder
	Chat     *audio.Recorder
	Stream   Streamer
	STT      Transcriber
	LLM      Enricher
	TTS      Speaker
	Settings *config.Settings
	Bus      *events.Bus
}

// Status is a point-in-time view of both slots.
type Status struct {
	Main      string `json:"main"`
	Chat      string `json:"chat"`
	Streaming bool   `json:"streaming"`
	Asking    bool   `json:"asking"`
}

// Controller runs the recording, transcription and enrichment flows.
type Controller struct {
	deps   Deps
	logger zerolog.Logger

	// ctx outlives individual requests; streaming connections and
	// auto-enrichment run under it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	streaming bool
	askCancel context.CancelFunc
	askSeq    uint64
}

// New creates a controller. Bus may be nil.
func New(deps Deps) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		deps:   deps,
		logger: observability.ForComponent("pipeline"),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Controller) publish(name events.Name, slot audio.Slot, payload any) {
	c.deps.Bus.Publish(name, string(slot), payload)
}

func (c *Controller) stage(slot audio.Slot, stage string) {
	c.publish(events.ProcessingStageChanged, slot, stage)
}

// fail reports err to subscribers unless it is a user cancellation.
func (c *Controller) fail(slot audio.Slot, op string, err error) {
	c.stage(slot, events.StageIdle)
	if apperr.IsCancelled(err) {
		c.logger.Info().Str("op", op).Str("slot", string(slot)).Msg("Cancelled")
		return
	}
	observability.RecordError(apperr.KindOf(err).String(), op)
	c.publish(events.ProcessingError, slot, map[string]string{"operation": op, "error": err.Error()})
}

func wrongSlot(slot audio.Slot) error {
	return fmt.Errorf("%s slot: %w", slot, ErrWrongSlot)
}

// Status reports the state of both slots.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Main:      c.deps.Main.State().String(),
		Chat:      c.deps.Chat.State().String(),
		Streaming: c.streaming,
		Asking:    c.askCancel != nil,
	}
}

// StartRecording opens the main slot. With the deepgram-live provider the
// streaming session is opened first and fed every captured chunk. It returns
// false when the slot is already recording.
func (c *Controller) StartRecording(ctx context.Context) (bool, error) {
	if c.deps.Main.IsRecording() {
		c.logger.Warn().Msg("Main recording already in progress")
		return false, nil
	}

	snap := c.deps.Settings.Snapshot()
	if snap.STTProvider != config.STTDeepgramLive || c.deps.Stream == nil {
		return c.startSlot(ctx, c.deps.Main, audio.StartOptions{})
	}

	err := c.deps.Stream.Start(c.ctx,
		func(text string, isFinal bool) {
			c.publish(events.TranscriptionPartial, audio.SlotMain, map[string]any{"text": text, "is_final": isFinal})
		},
		func(err error) { c.fail(audio.SlotMain, "stream", err) },
	)
	if errors.Is(err, stt.ErrStreamActive) {
		// a concurrent start won the race for the slot
		c.logger.Warn().Msg("Main recording already in progress")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	started, err := c.startSlot(ctx, c.deps.Main, audio.StartOptions{
		Raw: true,
		OnData: func(chunk []byte) {
			if err := c.deps.Stream.SendAudio(chunk); err != nil && !errors.Is(err, stt.ErrNotStreaming) {
				c.logger.Debug().Err(err).Msg("Dropping streaming frame")
			}
		},
	})
	if !started {
		if _, serr := c.deps.Stream.Stop(ctx); serr != nil && !errors.Is(serr, stt.ErrNotStreaming) {
			c.logger.Debug().Err(serr).Msg("Stream stop after failed start")
		}
		return started, err
	}
	c.mu.Lock()
	c.streaming = true
	c.mu.Unlock()
	return true, nil
}

func (c *Controller) startSlot(ctx context.Context, rec *audio.Recorder, opts audio.StartOptions) (bool, error) {
	started, err := rec.Start(ctx, opts)
	if err != nil {
		c.fail(rec.Slot(), "record", err)
		return false, err
	}
	if started {
		c.publish(events.RecordingStarted, rec.Slot(), nil)
	}
	return started, nil
}

// takeStreaming clears and returns the streaming flag.
func (c *Controller) takeStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.streaming
	c.streaming = false
	return s
}

// StopRecording ends the main slot and returns its transcript. When
// auto-enrich is on, enrichment runs in the background and is announced with
// an enrichment-ready event.
func (c *Controller) StopRecording(ctx context.Context) (string, error) {
	if !c.deps.Main.IsRecording() {
		return "", wrongSlot(audio.SlotMain)
	}
	wav, err := c.stopSlot(ctx, c.deps.Main)
	if err != nil {
		if c.takeStreaming() {
			_, _ = c.deps.Stream.Stop(ctx)
		}
		return "", err
	}

	var text string
	if c.takeStreaming() {
		text, err = c.deps.Stream.Stop(ctx)
		if err != nil {
			c.fail(audio.SlotMain, "transcribe", err)
			return "", err
		}
		text = strings.TrimSpace(text)
		c.publish(events.TranscriptionFinal, audio.SlotMain, text)
		c.stage(audio.SlotMain, events.StageIdle)
	} else {
		text, err = c.transcribe(ctx, audio.SlotMain, wav)
		if err != nil {
			return "", err
		}
	}

	if c.deps.Settings.Snapshot().AutoEnrich && text != "" {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if _, err := c.Enrich(c.ctx, text, ""); err != nil {
				c.logger.Warn().Err(err).Msg("Auto-enrichment failed")
			}
		}()
	}
	return text, nil
}

func (c *Controller) stopSlot(ctx context.Context, rec *audio.Recorder) ([]byte, error) {
	wav, err := rec.Stop(ctx)
	if err != nil {
		if errors.Is(err, audio.ErrNotRecording) {
			return nil, wrongSlot(rec.Slot())
		}
		c.fail(rec.Slot(), "record", err)
		return nil, err
	}
	c.publish(events.RecordingStopped, rec.Slot(), map[string]any{
		"duration_sec": audio.Duration(wav),
		"bytes":        len(wav),
	})
	return wav, nil
}

func (c *Controller) transcribe(ctx context.Context, slot audio.Slot, wav []byte) (string, error) {
	c.stage(slot, events.StageTranscribing)
	text, err := c.deps.STT.Transcribe(ctx, wav)
	if err != nil {
		c.fail(slot, "transcribe", err)
		return "", err
	}
	c.publish(events.TranscriptionFinal, slot, text)
	c.stage(slot, events.StageIdle)
	return text, nil
}

// CancelRecording discards the main slot's recording and any live stream.
func (c *Controller) CancelRecording(ctx context.Context) error {
	return c.cancelSlot(ctx, c.deps.Main)
}

func (c *Controller) cancelSlot(ctx context.Context, rec *audio.Recorder) error {
	if !rec.IsRecording() {
		return wrongSlot(rec.Slot())
	}
	if err := rec.Cancel(ctx); err != nil {
		return err
	}
	if rec.Slot() == audio.SlotMain && c.takeStreaming() {
		if _, err := c.deps.Stream.Stop(ctx); err != nil {
			c.logger.Debug().Err(err).Msg("Discarded streaming session ended with error")
		}
	}
	c.publish(events.RecordingStopped, rec.Slot(), map[string]any{"cancelled": true})
	c.stage(rec.Slot(), events.StageIdle)
	return nil
}

// StartChatRecording opens the chat slot for a spoken question.
func (c *Controller) StartChatRecording(ctx context.Context) (bool, error) {
	return c.startSlot(ctx, c.deps.Chat, audio.StartOptions{})
}

// StopChatRecording ends the chat slot and returns its transcript.
func (c *Controller) StopChatRecording(ctx context.Context) (string, error) {
	if !c.deps.Chat.IsRecording() {
		return "", wrongSlot(audio.SlotChat)
	}
	wav, err := c.stopSlot(ctx, c.deps.Chat)
	if err != nil {
		return "", err
	}
	return c.transcribe(ctx, audio.SlotChat, wav)
}

// CancelChatRecording discards the chat slot's recording.
func (c *Controller) CancelChatRecording(ctx context.Context) error {
	return c.cancelSlot(ctx, c.deps.Chat)
}

// ToggleResult reports what ToggleMainRecording did.
type ToggleResult struct {
	Started    bool   `json:"started"`
	Transcript string `json:"transcript,omitempty"`
}

// ToggleMainRecording starts the main slot when idle and stops it otherwise.
// It refuses to act while the chat slot is recording.
func (c *Controller) ToggleMainRecording(ctx context.Context) (ToggleResult, error) {
	if c.deps.Chat.IsRecording() {
		return ToggleResult{}, ErrChatActive
	}
	if c.deps.Main.IsRecording() {
		text, err := c.StopRecording(ctx)
		return ToggleResult{Transcript: text}, err
	}
	started, err := c.StartRecording(ctx)
	return ToggleResult{Started: started}, err
}

// Enrich runs text through a preset; an empty preset uses the active one.
func (c *Controller) Enrich(ctx context.Context, text, preset string) (*llm.EnrichedResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Config("enrich", "No text to enrich")
	}
	c.stage(audio.SlotMain, events.StageEnriching)
	res, err := c.deps.LLM.Enrich(ctx, text, preset)
	if err != nil {
		c.fail(audio.SlotMain, "enrich", err)
		return nil, err
	}
	c.publish(events.EnrichmentReady, audio.SlotMain, res)
	c.stage(audio.SlotMain, events.StageIdle)
	return res, nil
}

// AskQuestion answers a question about transcript. A new question cancels
// the one in flight.
func (c *Controller) AskQuestion(ctx context.Context, transcript, question string) (string, error) {
	qctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.askCancel != nil {
		c.askCancel()
	}
	c.askSeq++
	seq := c.askSeq
	c.askCancel = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.askSeq == seq {
			c.askCancel = nil
		}
		c.mu.Unlock()
		cancel()
	}()

	c.stage(audio.SlotChat, events.StageAnswering)
	answer, err := c.deps.LLM.AskQuestion(qctx, transcript, question)
	if err != nil {
		c.fail(audio.SlotChat, "ask", err)
		return "", err
	}
	c.stage(audio.SlotChat, events.StageIdle)
	return answer, nil
}

// CancelQuestion aborts the question in flight. It reports whether one was
// running.
func (c *Controller) CancelQuestion() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.askCancel == nil {
		return false
	}
	c.askCancel()
	c.askCancel = nil
	return true
}

// Speak synthesizes text and returns the WAV path.
func (c *Controller) Speak(ctx context.Context, text, language string) (string, error) {
	if c.deps.TTS == nil {
		return "", apperr.Config("tts", "Text-to-speech is not configured")
	}
	c.stage(audio.SlotMain, events.StageSpeaking)
	path, err := c.deps.TTS.Synthesize(ctx, text, language)
	if err != nil {
		c.fail(audio.SlotMain, "speak", err)
		return "", err
	}
	c.stage(audio.SlotMain, events.StageIdle)
	return path, nil
}

// TestTranscription transcribes one second of silence through the active
// provider.
func (c *Controller) TestTranscription(ctx context.Context) (string, error) {
	return c.deps.STT.SelfTest(ctx)
}

// TestEnrichment enriches a fixed sentence with the active preset.
func (c *Controller) TestEnrichment(ctx context.Context) (*llm.EnrichedResult, error) {
	return c.deps.LLM.Enrich(ctx, llm.TestText, "")
}

// Close discards open recordings, aborts in-flight work and waits for
// background enrichment to return.
func (c *Controller) Close(ctx context.Context) {
	for _, rec := range []*audio.Recorder{c.deps.Main, c.deps.Chat} {
		if rec.IsRecording() {
			if err := c.cancelSlot(ctx, rec); err != nil {
				c.logger.Warn().Err(err).Str("slot", string(rec.Slot())).Msg("Failed to cancel recording on close")
			}
		}
	}
	c.CancelQuestion()
	c.cancel()
	c.wg.Wait()
}
