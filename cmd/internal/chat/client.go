package chat

import (
	"sync"

	v1 "gymhub/shared/contracts/chat/v1"
)

// Client represents one connected websocket session.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent deliverers.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
// - The user binding changes on register/unregister events, and the writer and
//   heartbeat goroutines read it during shutdown, so it lives behind a mutex.
type Client struct {
	SessionID string
	Send      chan v1.Envelope

	mu     sync.Mutex
	userID string

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// UserID returns the current user binding, or "" when unbound.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// BindUser replaces the user binding and returns the previous one.
func (c *Client) BindUser(userID string) (prev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev = c.userID
	c.userID = userID
	return prev
}

// UnbindUser clears the binding if it currently equals userID.
func (c *Client) UnbindUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == userID {
		c.userID = ""
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep delivery safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
