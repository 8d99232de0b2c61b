package chat

import (
	"context"
	"strings"
	"sync"
	"time"
)

const memMaxMessagesPerConversation = 10_000

// InMemoryStore is a dev/test fallback when no database is configured.
// It implements the same atomic-upsert contract as the Postgres store: a
// single mutex serializes all operations, so find-or-create cannot race.
type InMemoryStore struct {
	mu    sync.Mutex
	convs map[memKey]*Conversation
}

type memKey struct {
	pair  PairKey
	scope string
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		convs: make(map[memKey]*Conversation),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// FindConversation returns the pair+scope conversation or nil when absent.
func (s *InMemoryStore) FindConversation(ctx context.Context, userA, userB, scope string) (*Conversation, error) {
	key, err := memKeyFor(userA, userB, scope)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[key]
	if c == nil {
		return nil, nil
	}
	return snapshotConversation(c), nil
}

// CreateConversation creates an empty conversation for the pair+scope.
func (s *InMemoryStore) CreateConversation(ctx context.Context, userA, userB, scope string) (*Conversation, error) {
	key, err := memKeyFor(userA, userB, scope)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[key]; ok {
		return nil, ErrDuplicateConversation
	}

	c := &Conversation{
		ID:    NewConversationID(time.Now().UTC()),
		Pair:  key.pair,
		Scope: key.scope,
	}
	s.convs[key] = c
	return snapshotConversation(c), nil
}

// AppendMessage upserts the conversation and inserts msg at the head of its
// message sequence.
func (s *InMemoryStore) AppendMessage(ctx context.Context, userA, userB, scope string, msg Message) (Message, error) {
	key, err := memKeyFor(userA, userB, scope)
	if err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(msg.Text) == "" || !key.pair.Contains(msg.Sender) {
		return Message{}, ErrInvalidMessage
	}

	now := msg.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[key]
	if c == nil {
		c = &Conversation{
			ID:    NewConversationID(now),
			Pair:  key.pair,
			Scope: key.scope,
		}
		s.convs[key] = c
	}

	stored := Message{
		ID:        NewMessageID(now),
		Sender:    msg.Sender,
		Text:      msg.Text,
		Timestamp: now,
	}

	// Head insertion keeps storage order most-recent-first.
	c.Messages = append([]Message{stored}, c.Messages...)

	// Bound memory to avoid unbounded growth in dev.
	if len(c.Messages) > memMaxMessagesPerConversation {
		c.Messages = c.Messages[:memMaxMessagesPerConversation]
	}

	return stored, nil
}

// ListConversationsForUser returns userID's conversations within scope,
// without message bodies.
func (s *InMemoryStore) ListConversationsForUser(ctx context.Context, userID, scope string) ([]Conversation, error) {
	userID = strings.TrimSpace(userID)
	scope = strings.TrimSpace(scope)
	if userID == "" || scope == "" {
		return nil, validationErr("query", "missing user id or scope")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Conversation
	for key, c := range s.convs {
		if key.scope != scope || !key.pair.Contains(userID) {
			continue
		}
		out = append(out, Conversation{ID: c.ID, Pair: c.Pair, Scope: c.Scope})
	}
	return out, nil
}

// RenameScope relabels userID's conversations from oldScope to newScope.
// A pair that already has a conversation under newScope keeps its old entry
// untouched and counts as skipped.
func (s *InMemoryStore) RenameScope(ctx context.Context, userID, oldScope, newScope string) (int64, int64, error) {
	userID = strings.TrimSpace(userID)
	oldScope = strings.TrimSpace(oldScope)
	newScope = strings.TrimSpace(newScope)
	if userID == "" || oldScope == "" || newScope == "" {
		return 0, 0, validationErr("rename", "missing user id or scope")
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var updated, skipped int64
	for key, c := range s.convs {
		if key.scope != oldScope || !key.pair.Contains(userID) {
			continue
		}
		dest := memKey{pair: key.pair, scope: newScope}
		if _, exists := s.convs[dest]; exists {
			skipped++
			continue
		}
		delete(s.convs, key)
		c.Scope = newScope
		s.convs[dest] = c
		updated++
	}
	return updated, skipped, nil
}

func memKeyFor(userA, userB, scope string) (memKey, error) {
	pair := NewPairKey(userA, userB)
	scope = strings.TrimSpace(scope)
	if !pair.Valid() {
		return memKey{}, validationErr("participants", "two distinct user ids required")
	}
	if scope == "" {
		return memKey{}, validationErr("scope", "must not be empty")
	}
	return memKey{pair: pair, scope: scope}, nil
}

func snapshotConversation(c *Conversation) *Conversation {
	cp := Conversation{
		ID:       c.ID,
		Pair:     c.Pair,
		Scope:    c.Scope,
		Messages: append([]Message(nil), c.Messages...),
	}
	return &cp
}
