// Package session holds pending app payloads between the moment a UI-bearing
// tool call returns and the moment a browser tab connects to collect them.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viant/mcp-protocol/schema"
)

// DefaultTTL bounds how long an unclaimed session may wait for its browser tab.
const DefaultTTL = 5 * time.Minute

// Payload carries everything the host page needs to render one tool call.
type Payload struct {
	HTML       string
	ToolInput  map[string]interface{}
	ToolResult *schema.CallToolResult
	CreatedAt  time.Time
}

// Registry is an in-memory, claim-once session store. A session exists from
// Create until exactly one successful Claim; claiming removes the entry so a
// second connection racing on the same id is refused.
type Registry struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]Payload

	done     chan struct{}
	stopOnce sync.Once
}

// New returns a Registry expiring unclaimed sessions after ttl
// (DefaultTTL when ttl <= 0).
func New(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{
		ttl:      ttl,
		sessions: make(map[string]Payload),
		done:     make(chan struct{}),
	}
	go r.expireLoop()
	return r
}

// Create stores the payload under a fresh opaque id and returns the id.
// It never fails.
func (r *Registry) Create(html string, toolInput map[string]interface{}, toolResult *schema.CallToolResult) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = Payload{
		HTML:       html,
		ToolInput:  toolInput,
		ToolResult: toolResult,
		CreatedAt:  time.Now(),
	}
	r.mu.Unlock()
	return id
}

// Claim atomically removes and returns the payload for id. The second of two
// concurrent claims on the same id observes ok == false.
func (r *Registry) Claim(id string) (Payload, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.sessions[id]
	if !ok {
		return Payload{}, false
	}
	delete(r.sessions, id)
	return p, true
}

// Exists reports whether id is still pending, without claiming it.
func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[id]
	return ok
}

// Len returns the number of unclaimed sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the expiry loop. Pending sessions are discarded with the process.
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

func (r *Registry) expireLoop() {
	interval := r.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			r.expire(now)
		}
	}
}

func (r *Registry) expire(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.sessions {
		if now.Sub(p.CreatedAt) > r.ttl {
			delete(r.sessions, id)
		}
	}
}
