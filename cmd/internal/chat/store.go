package chat

import (
	"context"
)

// Store persists conversations, queryable by participant pair + scope.
//
// Requirements:
//   - Conversation identity is order-independent in the pair: at most one
//     conversation document exists per (pair, scope).
//   - AppendMessage is an atomic upsert: it creates the conversation when
//     absent and appends in the same operation, so concurrent senders can
//     never produce two documents for the same pair+scope.
//   - Messages are stored most-recent-first within a conversation.
type Store interface {
	// FindConversation returns the conversation for the pair+scope, or nil
	// when none exists. Participant order is irrelevant.
	FindConversation(ctx context.Context, userA, userB, scope string) (*Conversation, error)

	// CreateConversation creates an empty conversation. It fails with
	// ErrDuplicateConversation when one already exists for the pair+scope.
	CreateConversation(ctx context.Context, userA, userB, scope string) (*Conversation, error)

	// AppendMessage inserts msg at the head of the conversation's message
	// sequence, creating the conversation on demand. It fails with
	// ErrInvalidMessage when msg.Text is empty or msg.Sender is not one of
	// the two participants. The returned message carries the assigned id
	// and timestamp.
	AppendMessage(ctx context.Context, userA, userB, scope string, msg Message) (Message, error)

	// ListConversationsForUser returns every conversation where userID is a
	// participant, restricted to scope. Message bodies are not loaded.
	ListConversationsForUser(ctx context.Context, userID, scope string) ([]Conversation, error)

	// RenameScope relabels every conversation where userID participates and
	// scope equals oldScope. A conversation whose pair already has a
	// conversation under newScope is left under oldScope so no history is
	// lost; such conversations are counted in skipped. Both counts are
	// returned.
	RenameScope(ctx context.Context, userID, oldScope, newScope string) (updated, skipped int64, err error)

	Close() error
}
