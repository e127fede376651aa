// Package registry correlates identifier-free completion requests with the
// call that caused them. The speech agent calls our proxy endpoint from its
// own cloud, so the request carries no call identity of its own; the bridge
// publishes its session key here under every key a proxy request could
// plausibly present.
package registry

import "sync"

// KeyCurrent is the catch-all entry pointing at the most recently started
// call. When more than one call is active at once, "current" reflects only
// the newest start and earlier calls' completion requests are misattributed.
// That recency rule is intentional: deployments of this bridge serve a single
// owner line. Bridges additionally register a unique per-call token that the
// proxy prefers, which removes the race whenever the agent echoes it back.
const KeyCurrent = "_current"

// Registry is a process-wide keyed store mapping correlation keys to session
// keys. Every operation takes the lock once and never holds it across I/O.
type Registry struct {
	mu      sync.Mutex
	entries map[string]string
}

func New() *Registry {
	return &Registry{entries: make(map[string]string)}
}

func (r *Registry) Register(key, sessionKey string) {
	if key == "" || sessionKey == "" {
		return
	}
	r.mu.Lock()
	r.entries[key] = sessionKey
	r.mu.Unlock()
}

func (r *Registry) Lookup(key string) (string, bool) {
	r.mu.Lock()
	sessionKey, ok := r.entries[key]
	r.mu.Unlock()
	return sessionKey, ok
}

// ReleaseAll removes every entry whose value is sessionKey, including the
// "current" slot, and reports how many entries were removed. Safe to call
// repeatedly; a second call is a no-op.
func (r *Registry) ReleaseAll(sessionKey string) int {
	if sessionKey == "" {
		return 0
	}
	r.mu.Lock()
	removed := 0
	for k, v := range r.entries {
		if v == sessionKey {
			delete(r.entries, k)
			removed++
		}
	}
	r.mu.Unlock()
	return removed
}

func (r *Registry) Len() int {
	r.mu.Lock()
	n := len(r.entries)
	r.mu.Unlock()
	return n
}
