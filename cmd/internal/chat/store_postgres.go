package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - AppendMessage takes a per-conversation transactional advisory lock keyed
//   on (pair, scope), so concurrent senders serialize and the ON CONFLICT
//   upsert guarantees at most one conversation row per pair+scope.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "gymhub").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "gymhub",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// FindConversation returns the pair+scope conversation with its messages
// most-recent-first, or nil when absent.
func (s *PostgresStore) FindConversation(ctx context.Context, userA, userB, scope string) (*Conversation, error) {
	key, err := memKeyFor(userA, userB, scope)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conversations := pgIdent(s.schema, "conversations")

	var conv Conversation
	err = s.pool.QueryRow(ctx,
		`SELECT id, participant_lo, participant_hi, scope
		   FROM `+conversations+`
		  WHERE participant_lo = $1 AND participant_hi = $2 AND scope = $3`,
		key.pair.Lo, key.pair.Hi, key.scope,
	).Scan(&conv.ID, &conv.Pair.Lo, &conv.Pair.Hi, &conv.Scope)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	msgs, err := s.readMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return &conv, nil
}

// CreateConversation creates an empty conversation row. It fails with
// ErrDuplicateConversation when the pair+scope row already exists.
func (s *PostgresStore) CreateConversation(ctx context.Context, userA, userB, scope string) (*Conversation, error) {
	key, err := memKeyFor(userA, userB, scope)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conversations := pgIdent(s.schema, "conversations")
	id := NewConversationID(time.Now().UTC())

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+conversations+` (id, participant_lo, participant_hi, scope)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (participant_lo, participant_hi, scope) DO NOTHING`,
		id, key.pair.Lo, key.pair.Hi, key.scope,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrDuplicateConversation
	}

	return &Conversation{ID: id, Pair: key.pair, Scope: key.scope}, nil
}

// AppendMessage upserts the conversation and appends msg in one transaction.
func (s *PostgresStore) AppendMessage(ctx context.Context, userA, userB, scope string, msg Message) (Message, error) {
	key, err := memKeyFor(userA, userB, scope)
	if err != nil {
		return Message{}, err
	}
	if strings.TrimSpace(msg.Text) == "" || !key.pair.Contains(msg.Sender) {
		return Message{}, ErrInvalidMessage
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	now := msg.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	conversations := pgIdent(s.schema, "conversations")
	messages := pgIdent(s.schema, "messages")

	// Serialize all writes per pair+scope so the upsert plus seq allocation
	// stay atomic under concurrent senders.
	lockKey := key.pair.Lo + "\x00" + key.pair.Hi + "\x00" + key.scope
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return Message{}, fmt.Errorf("advisory lock: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+conversations+` (id, participant_lo, participant_hi, scope)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (participant_lo, participant_hi, scope) DO NOTHING`,
		NewConversationID(now), key.pair.Lo, key.pair.Hi, key.scope,
	); err != nil {
		return Message{}, err
	}

	var convID string
	if err := tx.QueryRow(ctx,
		`SELECT id FROM `+conversations+`
		  WHERE participant_lo = $1 AND participant_hi = $2 AND scope = $3`,
		key.pair.Lo, key.pair.Hi, key.scope,
	).Scan(&convID); err != nil {
		return Message{}, err
	}

	var seq int64
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM `+messages+` WHERE conversation_id = $1`,
		convID,
	).Scan(&seq); err != nil {
		return Message{}, err
	}

	stored := Message{
		ID:        NewMessageID(now),
		Sender:    msg.Sender,
		Text:      msg.Text,
		Timestamp: now,
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+messages+` (conversation_id, seq, id, sender, text, ts)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		convID, seq, stored.ID, stored.Sender, stored.Text, stored.Timestamp,
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}
	return stored, nil
}

// ListConversationsForUser returns userID's conversations within scope,
// without message bodies.
func (s *PostgresStore) ListConversationsForUser(ctx context.Context, userID, scope string) ([]Conversation, error) {
	userID = strings.TrimSpace(userID)
	scope = strings.TrimSpace(scope)
	if userID == "" || scope == "" {
		return nil, validationErr("query", "missing user id or scope")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conversations := pgIdent(s.schema, "conversations")

	rows, err := s.pool.Query(ctx,
		`SELECT id, participant_lo, participant_hi, scope
		   FROM `+conversations+`
		  WHERE scope = $2 AND (participant_lo = $1 OR participant_hi = $1)
		  ORDER BY id ASC`,
		userID, scope,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Pair.Lo, &c.Pair.Hi, &c.Scope); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RenameScope relabels userID's conversations from oldScope to newScope and
// returns the updated and skipped counts. A pair that already has a row under
// newScope would trip uq_conversations_pair_scope, so those rows stay under
// oldScope and count as skipped.
func (s *PostgresStore) RenameScope(ctx context.Context, userID, oldScope, newScope string) (int64, int64, error) {
	userID = strings.TrimSpace(userID)
	oldScope = strings.TrimSpace(oldScope)
	newScope = strings.TrimSpace(newScope)
	if userID == "" || oldScope == "" || newScope == "" {
		return 0, 0, validationErr("rename", "missing user id or scope")
	}
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	conversations := pgIdent(s.schema, "conversations")

	var matched, updated int64
	row := s.pool.QueryRow(ctx,
		`WITH candidates AS (
		        SELECT participant_lo, participant_hi
		          FROM `+conversations+`
		         WHERE scope = $2 AND (participant_lo = $1 OR participant_hi = $1)
		      ), moved AS (
		        UPDATE `+conversations+` AS c
		           SET scope = $3
		         WHERE c.scope = $2 AND (c.participant_lo = $1 OR c.participant_hi = $1)
		           AND NOT EXISTS (
		                 SELECT 1
		                   FROM `+conversations+` AS d
		                  WHERE d.participant_lo = c.participant_lo
		                    AND d.participant_hi = c.participant_hi
		                    AND d.scope = $3)
		         RETURNING 1
		      )
		 SELECT (SELECT count(*) FROM candidates),
		        (SELECT count(*) FROM moved)`,
		userID, oldScope, newScope,
	)
	if err := row.Scan(&matched, &updated); err != nil {
		return 0, 0, err
	}
	return updated, matched - updated, nil
}

func (s *PostgresStore) readMessages(ctx context.Context, convID string) ([]Message, error) {
	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT id, sender, text, ts
		   FROM `+messages+`
		  WHERE conversation_id = $1
		  ORDER BY seq DESC`,
		convID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Text, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
