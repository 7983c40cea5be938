package httpshell

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned by Allow while a breaker is open; the call must
// not touch the network.
var ErrCircuitOpen = errors.New("circuit open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	}
	return "UNKNOWN"
}

// Stats is the counter snapshot surfaced by the admin endpoint.
type Stats struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Total     uint64 `json:"total"`
	Successes uint64 `json:"successes"`
	Failures  uint64 `json:"failures"`
	Rejected  uint64 `json:"rejected"`
}

// Breaker is a per-service circuit breaker.
//
// CLOSED -> OPEN after failureThreshold consecutive failures.
// OPEN -> HALF_OPEN after recoveryTimeout (one probe in flight at a time).
// HALF_OPEN -> CLOSED after successThreshold consecutive successes.
// HALF_OPEN -> OPEN on any failure.
type Breaker struct {
	name             string
	failureThreshold int
	successThreshold int
	recoveryTimeout  time.Duration

	mu              sync.Mutex
	state           State
	consecFailures  int
	consecSuccesses int
	openedAt        time.Time
	probeInFlight   bool

	total     uint64
	successes uint64
	failures  uint64
	rejected  uint64
}

func NewBreaker(name string, failureThreshold, successThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 2
	}
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            StateClosed,
	}
}

// Allow reports whether a call may proceed, transitioning OPEN -> HALF_OPEN
// once the recovery timeout has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) >= b.recoveryTimeout {
			b.setState(StateHalfOpen)
			b.probeInFlight = true
			b.total++
			return nil
		}
		b.rejected++
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.probeInFlight {
			b.rejected++
			return ErrCircuitOpen
		}
		b.probeInFlight = true
	}
	b.total++
	return nil
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes++
	b.consecFailures = 0
	b.probeInFlight = false

	if b.state == StateHalfOpen {
		b.consecSuccesses++
		if b.consecSuccesses >= b.successThreshold {
			b.setState(StateClosed)
		}
	}
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.consecSuccesses = 0
	b.probeInFlight = false

	switch b.state {
	case StateClosed:
		b.consecFailures++
		if b.consecFailures >= b.failureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.recoveryTimeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:      b.name,
		State:     b.state.String(),
		Total:     b.total,
		Successes: b.successes,
		Failures:  b.failures,
		Rejected:  b.rejected,
	}
}

// setState runs under b.mu.
func (b *Breaker) setState(next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next
	b.consecFailures = 0
	b.consecSuccesses = 0
	if next == StateOpen {
		b.openedAt = time.Now()
	}
	log.Warn().Str("breaker", b.name).Str("from", prev.String()).Str("to", next.String()).Msg("breaker state change")
}
