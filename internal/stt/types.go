package stt

import (
	"context"
	"time"

	"github.com/lexiqai/voice-notes/internal/config"
)

// Backend is one speech-to-text engine.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Initialize verifies prerequisites (executable, model file, credential)
	// for the given settings. It performs no network or process I/O.
	Initialize(ctx context.Context, snap config.ProviderConfig) error

	// Transcribe converts a canonical WAV buffer to text. An empty string is
	// a valid result.
	Transcribe(ctx context.Context, wav []byte, snap config.ProviderConfig) (string, error)
}

// UpdateFunc receives the combined transcript after every streaming message.
type UpdateFunc func(text string, isFinal bool)

// TimeoutPolicy derives a deadline from the audio length.
type TimeoutPolicy struct {
	Floor          time.Duration
	RealtimeFactor float64
}

// For returns max(Floor, duration x RealtimeFactor).
func (p TimeoutPolicy) For(durationSec float64) time.Duration {
	return DynamicTimeout(p.Floor, durationSec, p.RealtimeFactor)
}

// DynamicTimeout returns max(floor, durationSec x factor x 1000 ms) so long
// recordings get proportionally more time while short ones still fail fast.
func DynamicTimeout(floor time.Duration, durationSec, factor float64) time.Duration {
	scaled := time.Duration(durationSec * factor * float64(time.Second))
	if scaled > floor {
		return scaled
	}
	return floor
}
