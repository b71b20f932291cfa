package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lexiqai/voice-notes/internal/observability"
)

// ErrCircuitOpen is returned without calling the protected function while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// probeLimit is both the number of concurrent half-open probes and the number
// of probe successes needed to close again.
const probeLimit = 3

// Stats is a point-in-time view of a breaker.
type Stats struct {
	State    CircuitState
	Requests int64
	Failures int64
	// OpenedAt is zero unless the breaker has tripped at least once.
	OpenedAt time.Time
}

// FailureRate is the share of recorded calls that failed, in percent.
func (s Stats) FailureRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Requests) * 100
}

// CircuitBreaker guards one hosted provider (Deepgram, OpenAI, Gemini,
// OpenCode). Calls cancelled by the caller and errors rejected by the
// failure filter do not count against the provider.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	counts    func(error) bool
	now       func() time.Time

	mu       sync.Mutex
	state    CircuitState
	streak   int // consecutive failures while closed
	probes   int // half-open calls in flight or finished
	passed   int // half-open successes
	openedAt time.Time
	stats    Stats
}

// NewCircuitBreaker returns a closed breaker that opens after maxFailures
// consecutive failures and admits probes once resetTimeout has passed.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:      name,
		threshold: maxFailures,
		cooldown:  resetTimeout,
		now:       time.Now,
	}
}

// CountIf installs a filter deciding which errors are failures of the
// provider. Errors for which it returns false pass through unrecorded.
func (cb *CircuitBreaker) CountIf(fn func(error) bool) *CircuitBreaker {
	cb.mu.Lock()
	cb.counts = fn
	cb.mu.Unlock()
	return cb
}

// Name returns the protected service name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn if the breaker admits it.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	switch {
	case err == nil:
		cb.RecordResult(true)
	case errors.Is(ctx.Err(), context.Canceled) || !cb.counted(err):
		cb.forget()
	default:
		cb.RecordResult(false)
	}
	return err
}

func (cb *CircuitBreaker) counted(err error) bool {
	cb.mu.Lock()
	filter := cb.counts
	cb.mu.Unlock()
	return filter == nil || filter(err)
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.moveTo(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= probeLimit {
			return false
		}
		cb.probes++
	}
	return true
}

// forget hands back a probe slot taken by a call whose outcome says nothing
// about the provider.
func (cb *CircuitBreaker) forget() {
	cb.mu.Lock()
	if cb.state == StateHalfOpen && cb.probes > 0 {
		cb.probes--
	}
	cb.mu.Unlock()
}

// RecordResult feeds one outcome into the breaker.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.Requests++
	if success {
		cb.streak = 0
		if cb.state == StateHalfOpen {
			cb.passed++
			if cb.passed >= probeLimit {
				cb.moveTo(StateClosed)
			}
		}
		return
	}

	cb.stats.Failures++
	observability.IncrementCircuitBreakerFailures(cb.name)
	cb.streak++
	if cb.state == StateHalfOpen || cb.streak >= cb.threshold {
		cb.moveTo(StateOpen)
	}
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(state CircuitState) {
	cb.state = state
	cb.probes, cb.passed = 0, 0
	switch state {
	case StateOpen:
		cb.openedAt = cb.now()
		cb.stats.OpenedAt = cb.openedAt
	case StateClosed:
		cb.streak = 0
	}
	observability.UpdateCircuitBreakerState(cb.name, int(state))
}

// State reports the current state without advancing an expired cooldown.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	s.State = cb.state
	return s
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.stats = Stats{}
	cb.moveTo(StateClosed)
}
