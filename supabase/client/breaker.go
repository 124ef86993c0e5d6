package client

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is where a Breaker sits in its closed -> open -> trial cycle.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerTrial
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerTrial:
		return "trial"
	}
	return "unknown"
}

// BreakerConfig tunes a Breaker. Zero fields take the defaults.
type BreakerConfig struct {
	// Failures in a row that open the breaker.
	Failures int
	// Trials is how many trial requests must succeed before it closes again.
	Trials int
	// Cooldown is how long an open breaker refuses requests.
	Cooldown time.Duration
	// OnChange, when set, runs in its own goroutine after each state change.
	OnChange func(from, to BreakerState)
}

// DefaultBreakerConfig opens after five 5xx or transport failures and needs
// two good trial requests to close after a 30s cooldown.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Failures: 5, Trials: 2, Cooldown: 30 * time.Second}
}

// ErrCircuitOpen is wrapped by every request the breaker refuses.
var ErrCircuitOpen = errors.New("supabase circuit open")

// Breaker fails Supabase requests fast while PostgREST keeps erroring. Only
// one trial request is let through at a time once the cooldown has passed;
// the rest are refused until it reports back.
type Breaker struct {
	mu      sync.Mutex
	cfg     BreakerConfig
	state   BreakerState
	streak  int
	passed  int
	inTrial bool
	until   time.Time
	lastErr error
	now     func() time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Failures <= 0 {
		cfg.Failures = def.Failures
	}
	if cfg.Trials <= 0 {
		cfg.Trials = 1
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow returns nil when a request may go out. A nil return in the trial
// state claims the trial slot; the caller must report Success or Failure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if wait := b.until.Sub(b.now()); wait > 0 {
			return fmt.Errorf("%w: retry in %s", ErrCircuitOpen, wait.Round(time.Second))
		}
		b.set(BreakerTrial)
		b.inTrial = true
	case BreakerTrial:
		if b.inTrial {
			return fmt.Errorf("%w: trial request in flight", ErrCircuitOpen)
		}
		b.inTrial = true
	}
	return nil
}

// Success reports a request that reached PostgREST and got a non-5xx answer.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.streak = 0
	if b.state != BreakerTrial {
		return
	}
	b.inTrial = false
	if b.passed++; b.passed >= b.cfg.Trials {
		b.set(BreakerClosed)
	}
}

// Failure reports a transport error or 5xx answer.
func (b *Breaker) Failure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastErr = err
	switch b.state {
	case BreakerClosed:
		if b.streak++; b.streak >= b.cfg.Failures {
			b.trip()
		}
	case BreakerTrial:
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.until = b.now().Add(b.cfg.Cooldown)
	b.set(BreakerOpen)
}

// set moves to next and clears the per-state counters. Callers hold mu.
func (b *Breaker) set(next BreakerState) {
	prev := b.state
	b.state = next
	b.streak, b.passed, b.inTrial = 0, 0, false
	if prev != next && b.cfg.OnChange != nil {
		go b.cfg.OnChange(prev, next)
	}
}

// State reports the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastError is the most recent failure reported, even after the breaker
// has closed again.
func (b *Breaker) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}
