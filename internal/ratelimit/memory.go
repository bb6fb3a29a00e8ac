package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is one caller's counter for one wall-clock window.
type window struct {
	start time.Time
	count int
}

// MemoryLimiter implements the same fixed-window semantics as RedisLimiter
// for a single process. Counts are not shared across replicas, so this is
// a development fallback, not a horizontal-scaling configuration.
type MemoryLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	windows map[string]*window

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates an in-process fixed-window limiter. A background
// goroutine evicts finished windows every minute; call Close to stop it.
func NewMemoryLimiter(limit int, windowLen time.Duration) *MemoryLimiter {
	m := &MemoryLimiter{
		limit:   limit,
		window:  windowLen,
		windows: make(map[string]*window),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow counts one request against the caller's current window.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	start := windowStart(now, m.window)

	w, ok := m.windows[key]
	if !ok || !w.start.Equal(start) {
		w = &window{start: start}
		m.windows[key] = w
	}
	w.count++

	remaining := m.limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   w.count <= m.limit,
		Remaining: remaining,
		ResetAt:   start.Add(m.window),
	}, nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictFinished()
		}
	}
}

func (m *MemoryLimiter) evictFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := windowStart(time.Now(), m.window)
	for key, w := range m.windows {
		if w.start.Before(current) {
			delete(m.windows, key)
		}
	}
}
