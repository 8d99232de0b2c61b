// Package v1 defines the gymhub chat wire protocol.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server and clients so the wire format stays authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeRegister binds the connection to a user identity (client -> server).
	TypeRegister = "register"
	// TypeRegisterAck confirms the registration (server -> client).
	TypeRegisterAck = "register_ack"
	// TypeUnregister removes the identity binding; the connection stays open (client -> server).
	TypeUnregister = "unregister"

	// TypeMessageSend requests sending a new message (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageNew delivers an accepted message (server -> participant sessions).
	TypeMessageNew = "message_new"

	// TypeHistoryFetch requests the message history of a pair+gym (client -> server).
	TypeHistoryFetch = "history_fetch"
	// TypeHistoryChunk answers a history fetch (server -> client, correlated).
	TypeHistoryChunk = "history_chunk"

	// TypePartnersFetch requests the chat partners of a user within a gym (client -> server).
	TypePartnersFetch = "partners_fetch"
	// TypePartnersList answers a partners fetch (server -> client, correlated).
	TypePartnersList = "partners_list"

	// TypeScopeRename relabels a user's conversations after a gym rename (client -> server).
	TypeScopeRename = "scope_rename"
	// TypeScopeRenameResult answers a scope rename (server -> client, correlated).
	TypeScopeRenameResult = "scope_rename_result"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
//
// CorrID carries the request/response correlation token: request/response style
// events (history, partners, rename) answer with the CorrID of the request.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	CorrID  string          `json:"corr_id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeRegister,
		TypeRegisterAck,
		TypeUnregister,
		TypeMessageSend,
		TypeMessageNew,
		TypeHistoryFetch,
		TypeHistoryChunk,
		TypePartnersFetch,
		TypePartnersList,
		TypeScopeRename,
		TypeScopeRenameResult,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// RegisterPayload binds the connection to a user id.
type RegisterPayload struct {
	UserID string `json:"user_id"`
}

// RegisterAckPayload confirms registration and returns the server session id.
type RegisterAckPayload struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// UnregisterPayload removes the identity binding for a user id.
type UnregisterPayload struct {
	UserID string `json:"user_id"`
}

// MessageSendPayload requests sending a message to another user within a gym.
type MessageSendPayload struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Gym         string `json:"gym"`
	Text        string `json:"text"`
}

// MessageNewPayload is delivered to the sessions of both participants
// when a message is accepted.
type MessageNewPayload struct {
	Sender      string    `json:"sender"`
	RecipientID string    `json:"recipient_id"`
	Gym         string    `json:"gym"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

// HistoryFetchPayload requests the ordered message history for a pair+gym.
type HistoryFetchPayload struct {
	UserA string `json:"user_a"`
	UserB string `json:"user_b"`
	Gym   string `json:"gym"`
}

// HistoryMessage is one stored message inside a history chunk.
type HistoryMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// HistoryChunkPayload answers a history fetch. Messages are ascending by timestamp.
type HistoryChunkPayload struct {
	Messages []HistoryMessage `json:"messages"`
}

// PartnersFetchPayload requests the chat partners of a user within a gym.
type PartnersFetchPayload struct {
	OwnerID string `json:"owner_id"`
	Gym     string `json:"gym"`
}

// Partner is one chat partner entry with the resolved display name.
type Partner struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// PartnersListPayload answers a partners fetch.
type PartnersListPayload struct {
	Partners []Partner `json:"partners"`
}

// ScopeRenamePayload relabels a user's conversations from one gym name to another.
type ScopeRenamePayload struct {
	OwnerID string `json:"owner_id"`
	OldGym  string `json:"old_gym"`
	NewGym  string `json:"new_gym"`
}

// ScopeRenameResultPayload answers a scope rename.
// Success is false both when nothing matched (Updated == 0) and on internal
// failure (Message set, Updated == 0).
type ScopeRenameResultPayload struct {
	Success bool   `json:"success"`
	Updated int64  `json:"updated,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
