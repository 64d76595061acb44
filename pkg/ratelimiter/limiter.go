// Package ratelimiter implements the per-source pacing and back-off state
// machine: wait_for_slot / record_success / record_429, layered on top of
// golang.org/x/time/rate the way the scraper clients in the reference
// corpus layer a cooldown window on top of rate.Limiter.
package ratelimiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nthiel/jobwatch/pkg/config"
)

// successDecayThreshold is the number of consecutive
// successes that trigger a decay of current_delay_ms toward base_delay_ms.
const successDecayThreshold = 3

// decayFactor is the multiplicative decay applied to current_delay_ms on
// every successDecayThreshold-th consecutive success.
const decayFactor = 0.9

// sourceState is the per-source mutable pacing state.
type sourceState struct {
	mu sync.Mutex

	baseDelay   time.Duration
	maxDelay    time.Duration
	cooldownAt  int
	cooldownFor time.Duration

	lastRequestTime time.Time
	currentDelay    time.Duration
	consecutive200  int
	consecutive429  int
	cooldownUntil   time.Time

	limiter *rate.Limiter
}

// Limiter coordinates outbound request pacing across all external scraper
// sources. Each source gets independent state guarded by its own mutex;
// the map itself is guarded separately so sources can be paced concurrently.
type Limiter struct {
	cfg *config.RateLimiterConfig

	mu     sync.Mutex
	states map[string]*sourceState
}

// New builds a Limiter from configuration. A nil cfg falls back to
// config.DefaultRateLimiterConfig().
func New(cfg *config.RateLimiterConfig) *Limiter {
	if cfg == nil {
		cfg = config.DefaultRateLimiterConfig()
	}
	return &Limiter{cfg: cfg, states: make(map[string]*sourceState)}
}

func (l *Limiter) stateFor(source string) *sourceState {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.states[source]; ok {
		return s
	}

	sc := l.cfg.For(source)
	s := &sourceState{
		baseDelay:    sc.BaseDelay,
		maxDelay:     sc.MaxDelay,
		cooldownAt:   sc.CooldownAfter,
		cooldownFor:  sc.CooldownFor,
		currentDelay: sc.BaseDelay,
		// The rate.Limiter enforces a ceiling of one request per current
		// delay window; SetLimit is adjusted whenever current_delay_ms
		// changes so Wait blocks for the right duration without the
		// caller needing to compute it by hand.
		limiter: rate.NewLimiter(delayToLimit(sc.BaseDelay), 1),
	}
	l.states[source] = s
	return s
}

func delayToLimit(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// WaitForSlot blocks until the source's pacing and cooldown windows have
// elapsed, returning the elapsed wait. It must be called before every
// outbound request to a given source.
func (l *Limiter) WaitForSlot(ctx context.Context, source string) (time.Duration, error) {
	s := l.stateFor(source)

	s.mu.Lock()
	cooldownUntil := s.cooldownUntil
	limiter := s.limiter
	s.mu.Unlock()

	start := time.Now()

	if !cooldownUntil.IsZero() {
		if wait := time.Until(cooldownUntil); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return time.Since(start), fmt.Errorf("ratelimiter: cooldown wait for %q: %w", source, ctx.Err())
			}
		}
	}

	if err := limiter.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("ratelimiter: wait for slot on %q: %w", source, err)
	}

	s.mu.Lock()
	s.lastRequestTime = time.Now()
	s.mu.Unlock()

	return time.Since(start), nil
}

// RecordSuccess decays current_delay_ms toward base_delay_ms every N
// consecutive successes and resets the consecutive_429 counter.
func (l *Limiter) RecordSuccess(source string) {
	s := l.stateFor(source)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutive429 = 0
	s.consecutive200++

	if s.consecutive200 >= successDecayThreshold {
		s.consecutive200 = 0
		newDelay := time.Duration(float64(s.currentDelay) * decayFactor)
		if newDelay < s.baseDelay {
			newDelay = s.baseDelay
		}
		s.currentDelay = newDelay
		s.limiter.SetLimit(delayToLimit(newDelay))
	}
}

// RecordError resets the consecutive-success streak without touching
// current_delay_ms or the 429 counters; used for non-rate-limit errors.
func (l *Limiter) RecordError(source string) {
	s := l.stateFor(source)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutive200 = 0
}

// Record429 doubles current_delay_ms (bounded by max_delay), increments
// consecutive_429, and opens a cooldown window once the configured
// consecutive-429 threshold is reached.
func (l *Limiter) Record429(source string) {
	s := l.stateFor(source)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutive200 = 0
	s.consecutive429++

	newDelay := s.currentDelay * 2
	if s.maxDelay > 0 && newDelay > s.maxDelay {
		newDelay = s.maxDelay
	}
	s.currentDelay = newDelay
	s.limiter.SetLimit(delayToLimit(newDelay))

	if s.cooldownAt > 0 && s.consecutive429 >= s.cooldownAt {
		s.cooldownUntil = time.Now().Add(s.cooldownFor)
	}
}

// State is a read-only snapshot of a source's pacing state, as returned by
// Snapshot.
type State struct {
	Source         string        `json:"source"`
	CurrentDelay   time.Duration `json:"current_delay"`
	Consecutive429 int           `json:"consecutive_429"`
	CooldownUntil  time.Time     `json:"cooldown_until,omitempty"`
	InCooldown     bool          `json:"in_cooldown"`
}

// Snapshot returns the current state for a source without mutating it.
func (l *Limiter) Snapshot(source string) State {
	s := l.stateFor(source)

	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		Source:         source,
		CurrentDelay:   s.currentDelay,
		Consecutive429: s.consecutive429,
		CooldownUntil:  s.cooldownUntil,
		InCooldown:     time.Now().Before(s.cooldownUntil),
	}
}
