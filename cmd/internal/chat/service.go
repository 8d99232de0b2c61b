package chat

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// IdentityResolver looks up the display name of a user id. It is the only
// collaborator the chat core consumes; gymhub wires cmd/identity here.
type IdentityResolver interface {
	// FindDisplayName returns the user's first and last name, or ErrUnknownUser.
	FindDisplayName(ctx context.Context, userID string) (string, string, error)
}

// Service implements conversation semantics on top of a Store. It is the
// stable API for both the realtime gateway and HTTP callers.
type Service struct {
	log   *slog.Logger
	store Store
	users IdentityResolver

	now func() time.Time
}

// ServiceOption configures optional Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service. A nil store falls back to in-memory.
func NewService(log *slog.Logger, store Store, users IdentityResolver, opts ...ServiceOption) *Service {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = NewInMemoryStore()
	}

	s := &Service{
		log:   log,
		store: store,
		users: users,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// EnsureConversation is an idempotent find-or-create for the pair+scope.
// Concurrent calls result in exactly one conversation: the store's create is
// an insert-if-absent, and losing the race is not an error here.
func (s *Service) EnsureConversation(ctx context.Context, userA, userB, scope string) (*Conversation, error) {
	conv, err := s.store.FindConversation(ctx, userA, userB, scope)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	conv, err = s.store.CreateConversation(ctx, userA, userB, scope)
	if errors.Is(err, ErrDuplicateConversation) {
		// Lost the race to a concurrent creator; the winner's row is ours too.
		return s.store.FindConversation(ctx, userA, userB, scope)
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("chat.conversation.create",
		"participant_lo", conv.Pair.Lo,
		"participant_hi", conv.Pair.Hi,
		"scope", conv.Scope,
	)
	return conv, nil
}

// SendMessage validates, stamps the current time, upserts the conversation
// with the message appended, and returns the stored message for delivery.
func (s *Service) SendMessage(ctx context.Context, senderID, recipientID, scope, text string) (Message, error) {
	pair := NewPairKey(senderID, recipientID)
	if !pair.Valid() {
		return Message{}, validationErr("participants", "two distinct user ids required")
	}
	if strings.TrimSpace(scope) == "" {
		return Message{}, validationErr("scope", "must not be empty")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, validationErr("text", "must not be empty")
	}
	if len([]rune(text)) > maxMessageChars {
		return Message{}, validationErr("text", "too long")
	}

	msg := Message{
		Sender:    strings.TrimSpace(senderID),
		Text:      text,
		Timestamp: s.now(),
	}

	stored, err := s.store.AppendMessage(ctx, senderID, recipientID, scope, msg)
	if err != nil {
		return Message{}, err
	}

	s.log.Info("chat.message.store",
		"sender", stored.Sender,
		"recipient", pair.Other(stored.Sender),
		"scope", scope,
	)
	return stored, nil
}

// GetHistory returns all messages for the pair+scope ascending by timestamp.
// Messages without a timestamp sort as epoch. An absent conversation yields
// an empty slice, not an error.
func (s *Service) GetHistory(ctx context.Context, userA, userB, scope string) ([]Message, error) {
	conv, err := s.store.FindConversation(ctx, userA, userB, scope)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return []Message{}, nil
	}

	// Storage order is most-recent-first; flip to insertion order so the
	// stable sort breaks timestamp ties by insertion.
	msgs := make([]Message, len(conv.Messages))
	for i, m := range conv.Messages {
		msgs[len(msgs)-1-i] = m
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return historyInstant(msgs[i]).Before(historyInstant(msgs[j]))
	})
	return msgs, nil
}

// ListPartners returns, for each conversation the owner participates in within
// scope, the other participant with their resolved display name. Conversations
// whose partner cannot be resolved (deleted user) are dropped, not failed.
func (s *Service) ListPartners(ctx context.Context, ownerID, scope string) ([]Partner, error) {
	convs, err := s.store.ListConversationsForUser(ctx, ownerID, scope)
	if err != nil {
		return nil, err
	}

	ownerID = strings.TrimSpace(ownerID)
	out := make([]Partner, 0, len(convs))
	for _, c := range convs {
		partnerID := c.Pair.Other(ownerID)
		if partnerID == "" {
			continue
		}

		first, last, err := s.resolveName(ctx, partnerID)
		if err != nil {
			s.log.Warn("chat.partner.unresolved", "partner", partnerID, "scope", scope, "err", err)
			continue
		}
		out = append(out, Partner{UserID: partnerID, FirstName: first, LastName: last})
	}
	return out, nil
}

// RenameGymScope relabels the owner's conversations after a gym rename.
// No matching conversations is a legal zero, not an error. Conversations the
// store skipped to protect an existing history under the new name are logged
// and excluded from the returned count.
func (s *Service) RenameGymScope(ctx context.Context, ownerID, oldScope, newScope string) (int64, error) {
	updated, skipped, err := s.store.RenameScope(ctx, ownerID, oldScope, newScope)
	if err != nil {
		return 0, err
	}

	if skipped > 0 {
		s.log.Warn("chat.scope.rename.skipped", "owner", ownerID, "old", oldScope, "new", newScope, "skipped", skipped)
	}
	s.log.Info("chat.scope.rename", "owner", ownerID, "old", oldScope, "new", newScope, "updated", updated)
	return updated, nil
}

func (s *Service) resolveName(ctx context.Context, userID string) (string, string, error) {
	if s.users == nil {
		return "", "", ErrUnknownUser
	}
	return s.users.FindDisplayName(ctx, userID)
}

func historyInstant(m Message) time.Time {
	if m.Timestamp.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return m.Timestamp
}
