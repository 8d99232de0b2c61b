package chat

import (
	"log/slog"
	"sync"
)

// Registry is the gateway-owned mapping from user ids to live sessions.
// It is process-local state: a user connected to another process instance is
// invisible here, so delivery through the registry is best-effort.
//
// A user may hold several live sessions at once (multiple tabs/devices), so
// the mapping is one-to-many.
type Registry struct {
	log *slog.Logger

	mu     sync.RWMutex
	byUser map[string]map[string]*Client // user id -> session id -> client
}

// NewRegistry constructs an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:    log,
		byUser: make(map[string]map[string]*Client),
	}
}

// Register binds a client session to a user id.
func (r *Registry) Register(userID string, c *Client) {
	if r == nil || c == nil || userID == "" || c.SessionID == "" {
		return
	}

	r.mu.Lock()
	sessions := r.byUser[userID]
	if sessions == nil {
		sessions = make(map[string]*Client)
		r.byUser[userID] = sessions
	}
	sessions[c.SessionID] = c
	r.mu.Unlock()

	r.log.Info("chat.registry.register", "user_id", userID, "session_id", c.SessionID)
}

// Unregister removes the binding for one session of a user. The connection
// itself stays open; only the identity mapping is dropped.
func (r *Registry) Unregister(userID, sessionID string) {
	if r == nil || userID == "" || sessionID == "" {
		return
	}

	r.mu.Lock()
	if sessions := r.byUser[userID]; sessions != nil {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.byUser, userID)
		}
	}
	r.mu.Unlock()

	r.log.Info("chat.registry.unregister", "user_id", userID, "session_id", sessionID)
}

// Sessions returns a snapshot of the live sessions for userID.
func (r *Registry) Sessions(userID string) []*Client {
	if r == nil || userID == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.byUser[userID]
	if len(sessions) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(sessions))
	for _, c := range sessions {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered sessions across all users.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, sessions := range r.byUser {
		n += len(sessions)
	}
	return n
}
