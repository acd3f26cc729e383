// Package tokens tracks LLM token usage per session.
//
// The registry is process-wide and keyed by an opaque session id. The chat
// orchestrator computes one session id per turn, hands it to the LLM gateway,
// and reads the totals back under the same id when the turn ends.
package tokens

import "sync"

// Usage holds accumulated token counts for one session.
type Usage struct {
	TotalInputTokens  int `json:"total_input_tokens"`
	TotalOutputTokens int `json:"total_output_tokens"`
	CallCount         int `json:"call_count"`
}

// Registry is a concurrency-safe map of session id to Usage.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Usage
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Usage),
	}
}

// Add records one LLM call under the given session id.
func (r *Registry) Add(sessionID string, inputTokens, outputTokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.sessions[sessionID]
	if !ok {
		u = &Usage{}
		r.sessions[sessionID] = u
	}
	u.TotalInputTokens += inputTokens
	u.TotalOutputTokens += outputTokens
	u.CallCount++
}

// Get returns a copy of the usage recorded under sessionID.
func (r *Registry) Get(sessionID string) Usage {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.sessions[sessionID]; ok {
		return *u
	}
	return Usage{}
}

// Reset removes the session so a finished turn does not leak entries.
func (r *Registry) Reset(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}
