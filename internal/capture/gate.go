package capture

import (
	"sync"
	"time"
)

// Gate suppresses a payload seen again within the cooldown. It remembers only
// the last accepted payload, so a different code always passes and restarts
// the window for itself.
type Gate struct {
	cooldown time.Duration

	mu      sync.Mutex
	payload string
	at      time.Time
	primed  bool
}

// NewGate returns a gate with the given cooldown.
func NewGate(cooldown time.Duration) *Gate {
	if cooldown < 0 {
		cooldown = 0
	}
	return &Gate{cooldown: cooldown}
}

// Accept reports whether payload seen at the given instant should trigger.
// Instants taken from time.Now carry a monotonic reading, which Sub prefers.
func (g *Gate) Accept(payload string, at time.Time) bool {
	if payload == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.primed && payload == g.payload && at.Sub(g.at) <= g.cooldown {
		return false
	}
	g.payload = payload
	g.at = at
	g.primed = true
	return true
}

// Reset forgets the last accepted payload.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payload = ""
	g.at = time.Time{}
	g.primed = false
}

// Cooldown returns the configured window.
func (g *Gate) Cooldown() time.Duration {
	return g.cooldown
}
