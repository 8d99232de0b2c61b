package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeResolver struct {
	names map[string][2]string
}

func (f *fakeResolver) FindDisplayName(_ context.Context, userID string) (string, string, error) {
	n, ok := f.names[userID]
	if !ok {
		return "", "", ErrUnknownUser
	}
	return n[0], n[1], nil
}

// fixedHistoryStore returns one canned conversation for GetHistory ordering
// tests, where message timestamps need exact control.
type fixedHistoryStore struct {
	Store
	conv *Conversation
	err  error
}

func (f *fixedHistoryStore) FindConversation(context.Context, string, string, string) (*Conversation, error) {
	return f.conv, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_EnsureConversation_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewService(testLogger(), NewInMemoryStore(), nil)

	first, err := svc.EnsureConversation(ctx, "alice", "bob", "Iron Temple")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := svc.EnsureConversation(ctx, "bob", "alice", "Iron Temple")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("ensure created a second conversation: %q vs %q", first.ID, second.ID)
	}
}

func TestService_SendMessage_Validation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	cases := []struct {
		name                          string
		sender, recipient, gym, text string
	}{
		{name: "equal participants", sender: "alice", recipient: "alice", gym: "Iron Temple", text: "hi"},
		{name: "blank sender", sender: "  ", recipient: "bob", gym: "Iron Temple", text: "hi"},
		{name: "blank scope", sender: "alice", recipient: "bob", gym: " ", text: "hi"},
		{name: "blank text", sender: "alice", recipient: "bob", gym: "Iron Temple", text: "  "},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := NewInMemoryStore()
			svc := NewService(testLogger(), store, nil)

			_, err := svc.SendMessage(ctx, tc.sender, tc.recipient, tc.gym, tc.text)
			if !IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}

			// A rejected send must leave no conversation behind.
			store.mu.Lock()
			leftover := len(store.convs)
			store.mu.Unlock()
			if leftover != 0 {
				t.Fatalf("rejected send created %d conversation(s)", leftover)
			}
		})
	}
}

func TestService_SendMessage_StampsClock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	at := time.Date(2024, 5, 10, 9, 30, 0, 0, time.UTC)
	svc := NewService(testLogger(), NewInMemoryStore(), nil, WithClock(func() time.Time { return at }))

	stored, err := svc.SendMessage(ctx, "alice", "bob", "Iron Temple", "  hello  ")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !stored.Timestamp.Equal(at) {
		t.Fatalf("timestamp=%v want=%v", stored.Timestamp, at)
	}
	if stored.Text != "hello" {
		t.Fatalf("text not trimmed: %q", stored.Text)
	}
	if stored.ID == "" {
		t.Fatalf("stored message has no id")
	}
}

func TestService_GetHistory_SortsAscendingWithEpochFallback(t *testing.T) {
	t.Parallel()

	// Storage order is most-recent-first; the second entry has no timestamp
	// and must sort to the front as epoch.
	conv := &Conversation{
		ID:    "conv-1",
		Pair:  NewPairKey("alice", "bob"),
		Scope: "Iron Temple",
		Messages: []Message{
			{ID: "m3", Sender: "bob", Text: "third", Timestamp: time.Date(2024, 5, 10, 10, 0, 0, 0, time.UTC)},
			{ID: "m2", Sender: "alice", Text: "undated"},
			{ID: "m1", Sender: "alice", Text: "first", Timestamp: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)},
		},
	}
	svc := NewService(testLogger(), &fixedHistoryStore{conv: conv}, nil)

	msgs, err := svc.GetHistory(context.Background(), "alice", "bob", "Iron Temple")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "undated" || msgs[1].Text != "first" || msgs[2].Text != "third" {
		t.Fatalf("unexpected order: %q, %q, %q", msgs[0].Text, msgs[1].Text, msgs[2].Text)
	}
}

func TestService_GetHistory_TimestampTiesKeepInsertionOrder(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)
	conv := &Conversation{
		ID:   "conv-1",
		Pair: NewPairKey("alice", "bob"),
		Messages: []Message{
			// Most-recent-first storage: "second" was inserted after "first".
			{ID: "m2", Sender: "bob", Text: "second", Timestamp: at},
			{ID: "m1", Sender: "alice", Text: "first", Timestamp: at},
		},
	}
	svc := NewService(testLogger(), &fixedHistoryStore{conv: conv}, nil)

	msgs, err := svc.GetHistory(context.Background(), "alice", "bob", "Iron Temple")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if msgs[0].Text != "first" || msgs[1].Text != "second" {
		t.Fatalf("tie broke insertion order: %q, %q", msgs[0].Text, msgs[1].Text)
	}
}

func TestService_GetHistory_AbsentConversationIsEmpty(t *testing.T) {
	t.Parallel()

	svc := NewService(testLogger(), NewInMemoryStore(), nil)

	msgs, err := svc.GetHistory(context.Background(), "alice", "bob", "Nowhere Gym")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("expected empty (non-nil) history, got %v", msgs)
	}
}

func TestService_ListPartners_ResolvesAndDropsUnknown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewInMemoryStore()
	resolver := &fakeResolver{names: map[string][2]string{
		"alice": {"Alice", "Smith"},
		"bob":   {"Bob", "Jones"},
	}}
	svc := NewService(testLogger(), store, resolver)

	if _, err := svc.SendMessage(ctx, "owner", "alice", "Iron Temple", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := svc.SendMessage(ctx, "owner", "bob", "Iron Temple", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}
	// Partner not resolvable: must be dropped, not fail the listing.
	if _, err := svc.SendMessage(ctx, "owner", "ghost", "Iron Temple", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	partners, err := svc.ListPartners(ctx, "owner", "Iron Temple")
	if err != nil {
		t.Fatalf("partners: %v", err)
	}
	if len(partners) != 2 {
		t.Fatalf("expected 2 partners, got %d (%v)", len(partners), partners)
	}
	byID := make(map[string]Partner, len(partners))
	for _, p := range partners {
		byID[p.UserID] = p
	}
	if p := byID["alice"]; p.FirstName != "Alice" || p.LastName != "Smith" {
		t.Fatalf("alice not resolved: %+v", p)
	}
	if _, ok := byID["ghost"]; ok {
		t.Fatalf("unresolvable partner leaked into the listing")
	}
}

func TestService_ListPartners_NilResolverDegradesToEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewService(testLogger(), NewInMemoryStore(), nil)

	if _, err := svc.SendMessage(ctx, "owner", "alice", "Iron Temple", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	partners, err := svc.ListPartners(ctx, "owner", "Iron Temple")
	if err != nil {
		t.Fatalf("partners: %v", err)
	}
	if len(partners) != 0 {
		t.Fatalf("expected no partners without a resolver, got %d", len(partners))
	}
}

func TestService_RenameGymScope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewService(testLogger(), NewInMemoryStore(), nil)

	if _, err := svc.SendMessage(ctx, "owner", "alice", "Old Gym", "hi"); err != nil {
		t.Fatalf("send: %v", err)
	}

	updated, err := svc.RenameGymScope(ctx, "owner", "Old Gym", "New Gym")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if updated != 1 {
		t.Fatalf("expected 1 renamed, got %d", updated)
	}

	msgs, err := svc.GetHistory(ctx, "owner", "alice", "New Gym")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("history not reachable under new scope: %d", len(msgs))
	}
}

func TestService_GetHistory_StoreFailurePropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("backend down")
	svc := NewService(testLogger(), &fixedHistoryStore{err: boom}, nil)

	_, err := svc.GetHistory(context.Background(), "alice", "bob", "Iron Temple")
	if !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}
