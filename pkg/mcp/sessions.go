package mcp

import "sync"

// SessionBindings maps MCP client session IDs to workflow session IDs.
// The host binds a workflow session when it hands an agent the tool server;
// tool calls without an explicit session_id resolve through this registry.
type SessionBindings struct {
	mu       sync.RWMutex
	bindings map[string]string // MCP session ID → workflow session ID
}

// NewSessionBindings creates an empty registry.
func NewSessionBindings() *SessionBindings {
	return &SessionBindings{bindings: make(map[string]string)}
}

// Bind associates an MCP session with a workflow session. Rebinding
// overwrites (reconnect).
func (b *SessionBindings) Bind(mcpSessionID, sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[mcpSessionID] = sessionID
}

// SessionFor returns the workflow session bound to the MCP session, if any.
func (b *SessionBindings) SessionFor(mcpSessionID string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	sid, ok := b.bindings[mcpSessionID]
	return sid, ok
}

// Remove deletes the binding for an MCP session. Called on disconnect.
func (b *SessionBindings) Remove(mcpSessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bindings, mcpSessionID)
}
