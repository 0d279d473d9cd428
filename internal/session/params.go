package session

import (
	"strings"
	"sync"
)

// Common parameter keys shared between adapters.
const (
	ParamBackend   = "backend"    // backend chosen for the run after detection
	ParamUserAgent = "user_agent" // User-Agent that a server accepted
	ParamDriveRoot = "driveindex.root"
)

// Params is the session-scoped bag adapters use for one-time setup results
// (accepted User-Agent, detected backend, API roots). Keys starting with "_"
// are ephemeral and are not persisted.
type Params struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewParams returns an empty parameter bag.
func NewParams() *Params {
	return &Params{values: make(map[string]string)}
}

// Get returns the value for key.
func (p *Params) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// Set stores value under key.
func (p *Params) Set(key, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
}

// SetIfAbsent stores value only if key is unset and reports whether it did.
// Adapters use it for idempotent one-time setup.
func (p *Params) SetIfAbsent(key, value string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.values[key]; ok {
		return false
	}
	p.values[key] = value
	return true
}

// Snapshot returns a copy of the persistable parameters.
func (p *Params) Snapshot() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}
