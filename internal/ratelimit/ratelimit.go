// Package ratelimit provides the swappable rate limiter used by the
// verify-cookie handler. The in-memory implementation is instance-local and
// best-effort: concurrent instances do not share state, which is an accepted
// degradation rather than a correctness requirement.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter decides whether a caller identified by key may proceed.
type Limiter interface {
	Allow(key string) bool
}

// SlidingWindow is an in-process sliding-window limiter keyed by caller IP.
type SlidingWindow struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewSlidingWindow allows at most limit hits per key within window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (s *SlidingWindow) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.window)

	recent := s.hits[key][:0]
	for _, t := range s.hits[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= s.limit {
		s.hits[key] = recent
		return false
	}

	s.hits[key] = append(recent, now)
	return true
}

// Unlimited is a Limiter that always allows, for tests and no-auth setups.
type Unlimited struct{}

func (Unlimited) Allow(string) bool { return true }
