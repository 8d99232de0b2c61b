// Package chat contains gymhub's conversation store, service logic, and the
// realtime WebSocket gateway.
package chat

import (
	"strings"
	"time"
)

// PairKey is the canonical identity of a participant pair.
// Lo <= Hi always holds, so (A,B) and (B,A) produce the same key.
type PairKey struct {
	Lo string
	Hi string
}

// NewPairKey canonicalizes two user ids into an order-independent key.
func NewPairKey(a, b string) PairKey {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a > b {
		a, b = b, a
	}
	return PairKey{Lo: a, Hi: b}
}

// Valid reports whether the key names two distinct, non-empty participants.
func (k PairKey) Valid() bool {
	return k.Lo != "" && k.Hi != "" && k.Lo != k.Hi
}

// Contains reports whether userID is one of the two participants.
func (k PairKey) Contains(userID string) bool {
	return userID != "" && (userID == k.Lo || userID == k.Hi)
}

// Other returns the participant that is not userID, or "" when userID
// is not a participant.
func (k PairKey) Other(userID string) string {
	switch userID {
	case k.Lo:
		return k.Hi
	case k.Hi:
		return k.Lo
	default:
		return ""
	}
}

// Message is one stored chat message. Messages are immutable once stored.
type Message struct {
	ID        string
	Sender    string
	Text      string
	Timestamp time.Time
}

// Conversation is the persisted chat between exactly two users within one
// scope (a gym name). Messages are kept most-recent-first in storage order;
// chronological ordering is the Service's concern.
type Conversation struct {
	ID       string
	Pair     PairKey
	Scope    string
	Messages []Message
}

// DisplayName is the resolved name of a chat partner.
type DisplayName struct {
	FirstName string
	LastName  string
}

// Partner is one entry of a partner listing: the other participant of a
// conversation plus their resolved display name.
type Partner struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}
