package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory keeps last-acquired stamps in process memory. State is lost on
// restart, which can cost at most one extra notification per key.
type Memory struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time

	// maxEntries bounds the map; expired stamps are pruned first.
	maxEntries int
}

func NewMemory(window time.Duration) *Memory {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Memory{window: window, last: map[string]time.Time{}, maxEntries: 100_000}
}

func (m *Memory) TryAcquire(ctx context.Context, key string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.last[key]; ok && now.Sub(t) < m.window {
		return false, nil
	}
	m.last[key] = now
	if len(m.last) > m.maxEntries {
		m.pruneLocked(now)
	}
	return true, nil
}

// SetWindow changes the window for subsequent acquisitions.
func (m *Memory) SetWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	m.mu.Lock()
	m.window = window
	m.mu.Unlock()
}

func (m *Memory) Window() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.window
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.last)
}

func (m *Memory) pruneLocked(now time.Time) {
	for k, t := range m.last {
		if now.Sub(t) >= m.window {
			delete(m.last, k)
		}
	}
	// Still over: drop the oldest stamps. Dropping a live stamp only risks
	// one early notification for that key.
	for len(m.last) > m.maxEntries {
		var (
			oldestKey string
			oldest    time.Time
			set       bool
		)
		for k, t := range m.last {
			if !set || t.Before(oldest) {
				oldestKey, oldest, set = k, t, true
			}
		}
		delete(m.last, oldestKey)
	}
}
