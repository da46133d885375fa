package auth

import (
	"context"
	"sync"
	"time"
)

// AttemptLimiter throttles repeated failed logins per key (usually client IP).
type AttemptLimiter interface {
	// Check returns how long the key stays locked, or zero if it may try.
	Check(ctx context.Context, key string) (time.Duration, error)
	// RecordFailure counts a failed attempt and returns the attempts left
	// before the key is locked.
	RecordFailure(ctx context.Context, key string) (int, error)
	Reset(ctx context.Context, key string) error
}

type AttemptPolicy struct {
	MaxAttempts  int
	Window       time.Duration
	LockDuration time.Duration
}

func (p AttemptPolicy) withDefaults() AttemptPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.Window <= 0 {
		p.Window = 15 * time.Minute
	}
	if p.LockDuration <= 0 {
		p.LockDuration = 10 * time.Minute
	}
	return p
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// expired reports whether the state neither locks nor counts toward a lock.
func (s *attemptState) expired(now time.Time, window time.Duration) bool {
	return !now.Before(s.lockedUntil) && now.Sub(s.firstAttempt) > window
}

// MemoryLimiter keeps attempt counters in process memory. Expired entries are
// swept at most once per window.
type MemoryLimiter struct {
	policy AttemptPolicy
	now    func() time.Time

	mu        sync.Mutex
	attempts  map[string]*attemptState
	lastSweep time.Time
}

func NewMemoryLimiter(policy AttemptPolicy) *MemoryLimiter {
	return &MemoryLimiter{
		policy:   policy.withDefaults(),
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

func (m *MemoryLimiter) Check(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	state, ok := m.attempts[key]
	if !ok {
		return 0, nil
	}
	if !now.Before(state.lockedUntil) {
		return 0, nil
	}
	return state.lockedUntil.Sub(now), nil
}

func (m *MemoryLimiter) RecordFailure(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.sweep(now)

	state, ok := m.attempts[key]
	if !ok || now.Sub(state.firstAttempt) > m.policy.Window {
		state = &attemptState{firstAttempt: now}
		m.attempts[key] = state
	}

	state.count++
	if state.count >= m.policy.MaxAttempts {
		state.lockedUntil = now.Add(m.policy.LockDuration)
		state.count = 0
		state.firstAttempt = state.lockedUntil
		return 0, nil
	}

	return m.policy.MaxAttempts - state.count, nil
}

func (m *MemoryLimiter) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, key)
	return nil
}

// sweep drops expired entries. The caller holds mu.
func (m *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.policy.Window {
		return
	}
	m.lastSweep = now

	for key, state := range m.attempts {
		if state.expired(now, m.policy.Window) {
			delete(m.attempts, key)
		}
	}
}
