package identity

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model: the pgx pool belongs to the caller; this store never
// closes it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// Option configures PostgresStore behavior.
type Option func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "gymhub").
func WithSchema(schema string) Option {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("identity: empty schema")
		}
		if !identRE.MatchString(schema) {
			return errors.New("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed identity store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...Option) (*PostgresStore, error) {
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
		return nil, errors.New("identity: nil pool")
	}
	return st, nil
}

// CreateUser registers a new account with an argon2id password hash.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	first := strings.TrimSpace(in.FirstName)
	last := strings.TrimSpace(in.LastName)
	if email == "" || first == "" || last == "" {
		return User{}, errors.New("identity: email and name required")
	}

	role := in.Role
	if role == "" {
		role = RoleUser
	}
	if !role.Valid() {
		return User{}, errors.New("identity: invalid role")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	id, err := NewUserID(now)
	if err != nil {
		return User{}, err
	}

	users := s.table("users")

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, email, password_hash, first_name, last_name, role, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, email, hash, first, last, string(role), now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}

	return User{
		ID:        id,
		Email:     email,
		FirstName: first,
		LastName:  last,
		Role:      role,
		CreatedAt: now,
	}, nil
}

// GetUserByID loads an account.
func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, ErrNotFound
	}

	users := s.table("users")

	var u User
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, first_name, last_name, role, street, city, avatar_url, last_assist_at, created_at
		   FROM `+users+`
		  WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &role, &u.Street, &u.City, &u.AvatarURL, &u.LastAssistAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

// UpdateUser applies the non-nil profile fields and returns the updated account.
func (s *PostgresStore) UpdateUser(ctx context.Context, userID string, in UpdateUserInput) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, ErrNotFound
	}

	users := s.table("users")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET first_name = COALESCE($2, first_name),
		        last_name  = COALESCE($3, last_name),
		        street     = COALESCE($4, street),
		        city       = COALESCE($5, city),
		        avatar_url = COALESCE($6, avatar_url)
		  WHERE id = $1`,
		userID, in.FirstName, in.LastName, in.Street, in.City, in.AvatarURL,
	)
	if err != nil {
		return User{}, err
	}
	if tag.RowsAffected() == 0 {
		return User{}, ErrNotFound
	}

	return s.GetUserByID(ctx, userID)
}

// FindDisplayName resolves a user id to (firstName, lastName).
func (s *PostgresStore) FindDisplayName(ctx context.Context, userID string) (string, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", "", ErrNotFound
	}

	users := s.table("users")

	var first, last string
	err := s.pool.QueryRow(ctx,
		`SELECT first_name, last_name FROM `+users+` WHERE id = $1`,
		userID,
	).Scan(&first, &last)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	return first, last, nil
}

// TouchAssistAccess stamps the user's last AI-endpoint access time.
func (s *PostgresStore) TouchAssistAccess(ctx context.Context, userID string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	users := s.table("users")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET last_assist_at = $2 WHERE id = $1`,
		strings.TrimSpace(userID), at,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddFavoriteGym records a favorite; adding twice is a no-op.
func (s *PostgresStore) AddFavoriteGym(ctx context.Context, userID, gymID string) error {
	userID = strings.TrimSpace(userID)
	gymID = strings.TrimSpace(gymID)
	if userID == "" || gymID == "" {
		return errors.New("identity: user id and gym id required")
	}

	favorites := s.table("favorite_gyms")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+favorites+` (user_id, gym_id)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id, gym_id) DO NOTHING`,
		userID, gymID,
	)
	return err
}

// RemoveFavoriteGym removes a favorite; removing an absent one is a no-op.
func (s *PostgresStore) RemoveFavoriteGym(ctx context.Context, userID, gymID string) error {
	favorites := s.table("favorite_gyms")

	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+favorites+` WHERE user_id = $1 AND gym_id = $2`,
		strings.TrimSpace(userID), strings.TrimSpace(gymID),
	)
	return err
}

// ListFavoriteGyms returns the gym ids the user marked as favorites.
func (s *PostgresStore) ListFavoriteGyms(ctx context.Context, userID string) ([]string, error) {
	favorites := s.table("favorite_gyms")

	rows, err := s.pool.Query(ctx,
		`SELECT gym_id FROM `+favorites+` WHERE user_id = $1 ORDER BY gym_id`,
		strings.TrimSpace(userID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var gymID string
		if err := rows.Scan(&gymID); err != nil {
			return nil, err
		}
		out = append(out, gymID)
	}
	return out, rows.Err()
}

var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}
