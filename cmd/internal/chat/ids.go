package chat

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
)

// newULID returns a ULID string for the given instant.
// ULIDs are lexicographically sortable, which keeps ids useful in logs.
func newULID(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		// crypto/rand failing is not a recoverable condition for id minting.
		panic(err)
	}
	return id.String()
}

// NewConversationID mints a conversation id.
func NewConversationID(now time.Time) string { return newULID(now) }

// NewMessageID mints a message id.
func NewMessageID(now time.Time) string { return newULID(now) }

// NewSessionID mints a websocket session id.
func NewSessionID(now time.Time) string { return newULID(now) }

// NewRandomHex returns a random hex string of length 2*nBytes.
// Used for envelope ids and test fixtures where sortability does not matter.
func NewRandomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
