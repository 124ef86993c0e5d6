package client

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func newClockedBreaker(cfg BreakerConfig) (*Breaker, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(cfg)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestNewBreakerDefaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{})
	if b.cfg.Failures != 5 || b.cfg.Trials != 1 || b.cfg.Cooldown != 30*time.Second {
		t.Fatalf("cfg = %+v", b.cfg)
	}
	def := DefaultBreakerConfig()
	if def.Trials != 2 {
		t.Errorf("DefaultBreakerConfig().Trials = %d, want 2", def.Trials)
	}
}

func TestBreakerOpensAfterFailureStreak(t *testing.T) {
	b, _ := newClockedBreaker(BreakerConfig{Failures: 3, Cooldown: time.Minute})

	b.Failure(errBoom)
	b.Failure(errBoom)
	b.Success()
	b.Failure(errBoom)
	b.Failure(errBoom)
	if b.State() != BreakerClosed {
		t.Fatalf("State() = %v, a success should reset the streak", b.State())
	}

	b.Failure(errBoom)
	if b.State() != BreakerOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}
	err := b.Allow()
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() = %v, want ErrCircuitOpen", err)
	}
	if got, want := err.Error(), "supabase circuit open: retry in 1m0s"; got != want {
		t.Errorf("Allow() = %q, want %q", got, want)
	}
	if !errors.Is(b.LastError(), errBoom) {
		t.Errorf("LastError() = %v", b.LastError())
	}
}

func TestBreakerLetsOneTrialThrough(t *testing.T) {
	b, now := newClockedBreaker(BreakerConfig{Failures: 1, Trials: 2, Cooldown: time.Second})

	b.Failure(errBoom)
	*now = now.Add(2 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("first Allow() after cooldown = %v", err)
	}
	if b.State() != BreakerTrial {
		t.Fatalf("State() = %v, want trial", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second Allow() during trial = %v, want ErrCircuitOpen", err)
	}

	b.Success()
	if b.State() != BreakerTrial {
		t.Fatalf("State() = %v, one trial of two should keep it in trial", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() for second trial = %v", err)
	}
	b.Success()
	if b.State() != BreakerClosed {
		t.Fatalf("State() = %v, want closed", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() when closed = %v", err)
	}
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	b, now := newClockedBreaker(BreakerConfig{Failures: 1, Cooldown: time.Second})

	b.Failure(errBoom)
	*now = now.Add(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.Failure(errors.New("again"))

	if b.State() != BreakerOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() = %v, cooldown should restart", err)
	}
}

func TestBreakerReportsChanges(t *testing.T) {
	changes := make(chan [2]BreakerState, 4)
	b, now := newClockedBreaker(BreakerConfig{
		Failures: 1,
		Cooldown: time.Second,
		OnChange: func(from, to BreakerState) { changes <- [2]BreakerState{from, to} },
	})

	b.Failure(errBoom)
	*now = now.Add(2 * time.Second)
	_ = b.Allow()
	b.Success()

	want := [][2]BreakerState{
		{BreakerClosed, BreakerOpen},
		{BreakerOpen, BreakerTrial},
		{BreakerTrial, BreakerClosed},
	}
	got := map[[2]BreakerState]bool{}
	for range want {
		select {
		case c := <-changes:
			got[c] = true
		case <-time.After(time.Second):
			t.Fatalf("saw %d of %d changes", len(got), len(want))
		}
	}
	for _, w := range want {
		if !got[w] {
			t.Errorf("missing change %v -> %v", w[0], w[1])
		}
	}
}

func TestBreakerStateString(t *testing.T) {
	tests := map[BreakerState]string{
		BreakerClosed:    "closed",
		BreakerOpen:      "open",
		BreakerTrial:     "trial",
		BreakerState(42): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}

func TestBreakerConcurrentUse(t *testing.T) {
	b := NewBreaker(DefaultBreakerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if b.Allow() != nil {
				return
			}
			if i%2 == 0 {
				b.Success()
			} else {
				b.Failure(errBoom)
			}
		}(i)
	}
	wg.Wait()
	_ = b.State()
}
