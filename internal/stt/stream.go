package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-notes/internal/apperr"
	"github.com/lexiqai/voice-notes/internal/audio"
	"github.com/lexiqai/voice-notes/internal/config"
	"github.com/lexiqai/voice-notes/internal/observability"
)

var (
	// ErrStreamActive is returned when a session is started twice.
	ErrStreamActive = errors.New("streaming session already active")
	// ErrNotStreaming is returned when no session is active.
	ErrNotStreaming = errors.New("no streaming session active")
)

// closeStreamMessage asks Deepgram to flush pending results and close.
var closeStreamMessage = []byte(`{"type":"CloseStream"}`)

// Transport is one open duplex connection to the streaming service.
type Transport interface {
	// WriteAudio sends one binary audio frame.
	WriteAudio(frame []byte) error
	// WriteText sends a text control message.
	WriteText(msg []byte) error
	// ReadMessage blocks for the next message. It returns io.EOF once the
	// remote side has closed the connection cleanly.
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens Transports.
type Dialer interface {
	Dial(ctx context.Context, rawURL string, header http.Header) (Transport, error)
}

// WebsocketDialer dials the streaming endpoint with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Dial opens a websocket connection.
func (d WebsocketDialer) Dial(ctx context.Context, rawURL string, header http.Header) (Transport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return &wsTransport{conn: conn, writeTimeout: d.WriteTimeout}, nil
}

type wsTransport struct {
	mu           sync.Mutex
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) write(kind int, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	return t.conn.WriteMessage(kind, data)
}

func (t *wsTransport) WriteAudio(frame []byte) error { return t.write(websocket.BinaryMessage, frame) }

func (t *wsTransport) WriteText(msg []byte) error { return t.write(websocket.TextMessage, msg) }

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		return nil, io.EOF
	}
	return data, err
}

func (t *wsTransport) Close() error { return t.conn.Close() }

// StreamConfig configures a StreamingSession.
type StreamConfig struct {
	Model        string
	Language     string
	Endpointing  int // Milliseconds of silence that end an utterance
	CloseTimeout time.Duration
	Dialer       Dialer
}

// StreamConfigFromConfig maps process configuration onto StreamConfig.
func StreamConfigFromConfig(cfg *config.Config) StreamConfig {
	return StreamConfig{
		Model:        cfg.DeepgramModel,
		Language:     cfg.DeepgramLanguage,
		Endpointing:  300,
		CloseTimeout: cfg.StreamCloseTimeout(),
	}
}

// StreamingSession is one live transcription over a persistent connection.
// Audio sent before the connection opens is queued and flushed in order.
// Final segments accumulate, interim text is replaced by each newer message.
type StreamingSession struct {
	cfg      StreamConfig
	settings *config.Settings
	logger   zerolog.Logger

	mu       sync.Mutex
	gen      uint64
	active   bool
	open     bool
	closing  bool
	conn     Transport
	queue    [][]byte
	final    string
	interim  string
	last     string
	err      error
	onUpdate UpdateFunc
	onError  func(error)
	opened   chan struct{}
	done     chan struct{}
}

// NewStreamingSession creates an idle session.
func NewStreamingSession(cfg StreamConfig, settings *config.Settings) *StreamingSession {
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{HandshakeTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	}
	return &StreamingSession{
		cfg:      cfg,
		settings: settings,
		logger:   observability.ForComponent("deepgram-live"),
	}
}

// Options returns the live transcription options for a session.
func (s *StreamingSession) Options() *interfaces.LiveTranscriptionOptions {
	return &interfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       audio.Channels,
		SampleRate:     audio.SampleRate,
	}
}

// StreamURL builds the websocket URL carrying the session options.
func (s *StreamingSession) StreamURL(base string) (string, error) {
	if base == "" {
		base = "wss://api.deepgram.com/v1/listen"
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", apperr.Config("deepgram-live", "Invalid Deepgram streaming URL: %v", err)
	}
	opts := s.Options()
	q := u.Query()
	q.Set("model", opts.Model)
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	q.Set("punctuate", strconv.FormatBool(opts.Punctuate))
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	q.Set("utterance_end_ms", opts.UtteranceEndMs)
	q.Set("vad_events", strconv.FormatBool(opts.VadEvents))
	q.Set("encoding", opts.Encoding)
	q.Set("channels", strconv.Itoa(opts.Channels))
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	if s.cfg.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(s.cfg.Endpointing))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// IsActive reports whether a session is running.
func (s *StreamingSession) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start begins connecting in the background and returns immediately so
// capture can start at once. onUpdate receives the combined transcript after
// every result; onError is called when the connection fails outside Stop.
func (s *StreamingSession) Start(ctx context.Context, onUpdate UpdateFunc, onError func(error)) error {
	snap := s.settings.Snapshot()
	if !snap.HasCredential(config.STTDeepgram) {
		return apperr.Config("deepgram-live", "Deepgram API key not configured.")
	}
	endpoint, err := s.StreamURL(snap.BaseURL(config.STTDeepgramLive))
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return ErrStreamActive
	}
	s.gen++
	gen := s.gen
	s.active = true
	s.open = false
	s.closing = false
	s.conn = nil
	s.queue = nil
	s.final, s.interim, s.last = "", "", ""
	s.err = nil
	s.onUpdate = onUpdate
	s.onError = onError
	s.opened = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Token "+snap.Credential(config.STTDeepgram))

	go s.connect(ctx, gen, endpoint, header)
	s.logger.Info().Str("model", s.cfg.Model).Str("language", s.cfg.Language).Msg("Streaming session starting")
	return nil
}

func (s *StreamingSession) connect(ctx context.Context, gen uint64, endpoint string, header http.Header) {
	conn, err := s.cfg.Dialer.Dial(ctx, endpoint, header)

	s.mu.Lock()
	if gen != s.gen || !s.active {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.fail(gen, apperr.Transport("deepgram-live", err, "Failed to connect to Deepgram: %v", err))
		return
	}

	s.conn = conn
	for _, frame := range s.queue {
		if werr := conn.WriteAudio(frame); werr != nil {
			err = werr
			break
		}
	}
	s.queue = nil
	s.open = true
	close(s.opened)
	s.mu.Unlock()

	if err != nil {
		s.fail(gen, apperr.Transport("deepgram-live", err, "Failed to send audio to Deepgram: %v", err))
		return
	}
	s.logger.Debug().Msg("Streaming connection open")
	go s.readLoop(gen, conn)
}

// SendAudio forwards one PCM frame, queueing it while the connection opens.
func (s *StreamingSession) SendAudio(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ErrNotStreaming
	}
	if !s.open {
		s.queue = append(s.queue, append([]byte(nil), frame...))
		return nil
	}
	return s.conn.WriteAudio(frame)
}

func (s *StreamingSession) readLoop(gen uint64, conn Transport) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			current := s.gen == gen
			s.mu.Unlock()
			if !current {
				return
			}
			if errors.Is(err, io.EOF) {
				s.finish(gen)
				return
			}
			s.fail(gen, apperr.Transport("deepgram-live", err, "Deepgram connection error: %v", err))
			return
		}
		s.handleMessage(gen, data)
	}
}

func (s *StreamingSession) handleMessage(gen uint64, data []byte) {
	var msg msginterfaces.MessageResponse
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring undecodable streaming message")
		return
	}

	switch msg.Type {
	case "Metadata":
		s.logger.Debug().Msg("Deepgram metadata received")
	case "SpeechStarted":
		s.logger.Debug().Msg("Deepgram: speech started")
	case "UtteranceEnd":
		s.logger.Debug().Msg("Deepgram: utterance ended")
	case "Results":
		text := ""
		if len(msg.Channel.Alternatives) > 0 {
			text = strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
		}

		s.mu.Lock()
		if gen != s.gen {
			s.mu.Unlock()
			return
		}
		if msg.IsFinal {
			if text != "" {
				if s.final == "" {
					s.final = text
				} else {
					s.final += " " + text
				}
			}
			s.interim = ""
		} else {
			s.interim = text
		}
		combined := strings.TrimSpace(s.final + " " + s.interim)
		s.last = combined
		onUpdate := s.onUpdate
		s.mu.Unlock()

		if onUpdate != nil {
			onUpdate(combined, msg.IsFinal)
		}
	default:
		s.logger.Debug().Str("type", msg.Type).Msg("Deepgram: unhandled message type")
	}
}

func (s *StreamingSession) finish(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// fail records err, clears the session and wakes a pending Stop.
func (s *StreamingSession) fail(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	stopping := s.closing
	s.err = err
	s.active = false
	s.open = false
	s.queue = nil
	conn := s.conn
	s.conn = nil
	onError := s.onError
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.logger.Error().Err(err).Msg("Streaming session failed")
	observability.RecordError("transport", "deepgram-live")
	if !stopping && onError != nil {
		onError(err)
	}
}

// Stop asks the service to flush and close, waiting up to CloseTimeout
// before forcing the connection shut. It returns the accumulated final
// transcript, or the last combined text when no final segment arrived.
func (s *StreamingSession) Stop(ctx context.Context) (string, error) {
	s.mu.Lock()
	if !s.active && s.err == nil {
		s.mu.Unlock()
		return "", ErrNotStreaming
	}
	gen := s.gen
	s.closing = true
	opened, done := s.opened, s.done
	s.mu.Unlock()

	// One deadline covers both the wait for open and the wait for the ack.
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.CloseTimeout)
	defer cancel()

	// Wait for the connection so queued audio is flushed before closing.
	select {
	case <-opened:
	case <-done:
	case <-waitCtx.Done():
	}

	if waitCtx.Err() == nil {
		s.mu.Lock()
		conn := s.conn
		isOpen := s.open
		s.mu.Unlock()

		if isOpen && conn != nil {
			if err := conn.WriteText(closeStreamMessage); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to send CloseStream")
			}
		}

		select {
		case <-done:
		case <-waitCtx.Done():
		}
	}
	if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		s.logger.Warn().Dur("timeout", s.cfg.CloseTimeout).Msg("Streaming close timed out, forcing close")
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return "", ErrNotStreaming
	}
	err := s.err
	text := s.final
	if text == "" {
		text = s.last
	}
	conn := s.conn
	s.active = false
	s.open = false
	s.closing = false
	s.conn = nil
	s.queue = nil
	s.err = nil
	s.final, s.interim, s.last = "", "", ""
	s.gen++
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if err != nil {
		return "", err
	}
	s.logger.Info().Int("chars", len(text)).Msg("Streaming session stopped")
	return strings.TrimSpace(text), nil
}
