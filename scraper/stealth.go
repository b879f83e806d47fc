package scraper

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aluiziolira/civic-crawler/config"
)

const (
	outcomeWindow   = 20
	intervalWindow  = 10
	minSuccessRate  = 0.8
	burstMultiplier = 1.5
	errorMultiplier = 2.0
)

// Delay is the wait computed before one request.
type Delay struct {
	Wait  time.Duration
	Break bool
}

// Stealth holds the session-wide request pacing state shared by all
// workers. Every method is safe for concurrent use.
type Stealth struct {
	cfg config.StealthConfig
	now func() time.Time

	mu           sync.Mutex
	rng          *rand.Rand
	requests     int
	outcomes     []bool
	intervals    []time.Duration
	lastRequest  time.Time
	sessionStart time.Time
	lastBreak    time.Time
	nextBreakAt  int
}

// NewStealth creates pacing state. The seed makes delays reproducible.
func NewStealth(cfg config.StealthConfig, seed uint64) *Stealth {
	s := &Stealth{
		cfg: cfg,
		now: time.Now,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	s.sessionStart = s.now()
	s.lastBreak = s.sessionStart
	s.nextBreakAt = s.drawBreakEvery()
	return s
}

// NextDelay accounts for one upcoming request and returns how long to wait
// before sending it.
func (s *Stealth) NextDelay() Delay {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.requests++

	wait := s.uniform(s.cfg.MinDelay, s.cfg.MaxDelay)
	if s.cfg.MinRequestInterval > 0 && len(s.intervals) >= 3 && s.averageInterval() < s.cfg.MinRequestInterval {
		wait = time.Duration(float64(wait) * burstMultiplier)
	}
	if len(s.outcomes) > 0 && s.successRate() < minSuccessRate {
		wait = time.Duration(float64(wait) * errorMultiplier)
	}
	if s.cfg.LongPauseChance > 0 && s.rng.Float64() < s.cfg.LongPauseChance {
		wait += s.uniform(s.cfg.LongPauseMin, s.cfg.LongPauseMax)
	}

	d := Delay{Wait: wait}
	switch {
	case s.cfg.BreakEveryMin > 0 && s.requests >= s.nextBreakAt:
		s.nextBreakAt = s.requests + s.drawBreakEvery()
		d.Break = true
	case s.cfg.SessionBreakInterval > 0 && now.Sub(s.lastBreak) >= s.cfg.SessionBreakInterval:
		d.Break = true
	}
	if d.Break {
		d.Wait += s.uniform(s.cfg.BreakMin, s.cfg.BreakMax)
		s.lastBreak = now
	}

	sendAt := now.Add(d.Wait)
	if !s.lastRequest.IsZero() {
		gap := sendAt.Sub(s.lastRequest)
		if gap < 0 {
			gap = 0
		}
		s.intervals = appendWindow(s.intervals, gap, intervalWindow)
	}
	if sendAt.After(s.lastRequest) {
		s.lastRequest = sendAt
	}
	return d
}

// Record feeds the outcome of a request into the rolling success rate.
func (s *Stealth) Record(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = appendWindow(s.outcomes, success, outcomeWindow)
}

// SuccessRate over the last requests; 1 when nothing was recorded.
func (s *Stealth) SuccessRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successRate()
}

// Requests is the number of delays handed out.
func (s *Stealth) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Identity picks a random identity from the pool.
func (s *Stealth) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Identities[s.rng.IntN(len(Identities))]
}

// Referrer returns an upstream site with probability ReferrerChance, or "".
func (s *Stealth) Referrer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.ReferrerChance <= 0 || s.rng.Float64() >= s.cfg.ReferrerChance {
		return ""
	}
	return Referrers[s.rng.IntN(len(Referrers))]
}

func (s *Stealth) successRate() float64 {
	if len(s.outcomes) == 0 {
		return 1
	}
	ok := 0
	for _, o := range s.outcomes {
		if o {
			ok++
		}
	}
	return float64(ok) / float64(len(s.outcomes))
}

func (s *Stealth) averageInterval() time.Duration {
	if len(s.intervals) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range s.intervals {
		total += d
	}
	return total / time.Duration(len(s.intervals))
}

func (s *Stealth) drawBreakEvery() int {
	lo, hi := s.cfg.BreakEveryMin, s.cfg.BreakEveryMax
	if lo <= 0 {
		return 0
	}
	if hi <= lo {
		return lo
	}
	return lo + s.rng.IntN(hi-lo+1)
}

func (s *Stealth) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return max(lo, 0)
	}
	return lo + time.Duration(s.rng.Int64N(int64(hi-lo)+1))
}

func appendWindow[T any](window []T, v T, size int) []T {
	window = append(window, v)
	if len(window) > size {
		window = window[len(window)-size:]
	}
	return window
}

// Backoff is the wait before retry number attempt: base doubled per
// attempt, capped at limit, then spread by up to ±jitter of itself.
func Backoff(attempt int, base, limit time.Duration, jitter float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if attempt > 20 {
		attempt = 20
	}

	delay := base * time.Duration(1<<(attempt-1))
	if limit > 0 && delay > limit {
		delay = limit
	}
	if jitter > 0 {
		spread := (rand.Float64()*2 - 1) * jitter * float64(delay)
		delay += time.Duration(spread)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
