package ratelimit

import (
	"sync"
)

// Registry keeps one Limiter per key (a host or a backend family).
type Registry struct {
	limiters map[string]*Limiter
	mu       sync.RWMutex
	fallback func() *Limiter
}

// NewRegistry creates a registry. Keys without an explicit limiter get one
// from fallback, or an unlimited one when fallback is nil.
func NewRegistry(fallback func() *Limiter) *Registry {
	if fallback == nil {
		fallback = Unlimited
	}
	return &Registry{
		limiters: make(map[string]*Limiter),
		fallback: fallback,
	}
}

// Set installs a limiter for key, replacing any existing one.
func (r *Registry) Set(key string, limiter *Limiter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.limiters[key] = limiter
}

// For returns the limiter for key, creating it on first use.
func (r *Registry) For(key string) *Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[key]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Check again in case another goroutine created it
	if limiter, exists := r.limiters[key]; exists {
		return limiter
	}

	limiter = r.fallback()
	r.limiters[key] = limiter
	return limiter
}
