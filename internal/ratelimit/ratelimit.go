// Package ratelimit provides a fixed-window rate limiter keyed by caller,
// used to bound message rates on the cluster control channel.
package ratelimit

import (
	"sync"
	"time"
)

type window struct {
	count int
	start time.Time
}

// Keyed allows up to rate events per window for each distinct key.
type Keyed struct {
	mu      sync.Mutex
	rate    int
	window  time.Duration
	windows map[string]*window
}

// NewKeyed creates a limiter allowing rate events per window per key.
func NewKeyed(rate int, windowSize time.Duration) *Keyed {
	return &Keyed{
		rate:    rate,
		window:  windowSize,
		windows: make(map[string]*window),
	}
}

// Allow reports whether one more event for key fits in the current window.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	w, ok := k.windows[key]
	if !ok || now.Sub(w.start) > k.window {
		w = &window{start: now}
		k.windows[key] = w
	}
	w.count++
	return w.count <= k.rate
}

// Forget drops the window for key, typically when its connection closes.
func (k *Keyed) Forget(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.windows, key)
}
