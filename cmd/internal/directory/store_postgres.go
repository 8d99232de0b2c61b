package directory

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned when a gym or review id resolves to no row.
var ErrNotFound = errors.New("directory: not found")

// ErrInvalidInput wraps rejections of caller-supplied gym or review fields.
var ErrInvalidInput = errors.New("directory: invalid input")

// PostgresStore is a Store backed by PostgreSQL. The pool belongs to the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// NewPostgresStore constructs a Postgres-backed directory store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("directory: nil pool")
	}
	return &PostgresStore{pool: pool, schema: "gymhub"}, nil
}

// CreateGym inserts a gym listing.
func (s *PostgresStore) CreateGym(ctx context.Context, g Gym) (Gym, error) {
	g.Name = strings.TrimSpace(g.Name)
	g.City = strings.TrimSpace(g.City)
	g.OwnerID = strings.TrimSpace(g.OwnerID)
	if g.Name == "" || g.City == "" || g.OwnerID == "" {
		return Gym{}, fmt.Errorf("%w: name, city and owner required", ErrInvalidInput)
	}
	if len(g.Pictures) == 0 {
		return Gym{}, fmt.Errorf("%w: at least one picture required", ErrInvalidInput)
	}

	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	g.ID = newID(g.CreatedAt)
	g.AmountOfReviews = 0

	gyms := s.table("gyms")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+gyms+` (id, name, city, description, pictures, amount_of_reviews, owner_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		g.ID, g.Name, g.City, g.Description, g.Pictures, g.AmountOfReviews, g.OwnerID, g.CreatedAt,
	)
	if err != nil {
		return Gym{}, err
	}
	return g, nil
}

// GetGymByID loads one gym listing.
func (s *PostgresStore) GetGymByID(ctx context.Context, gymID string) (Gym, error) {
	gyms := s.table("gyms")

	var g Gym
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, city, description, pictures, amount_of_reviews, owner_id, created_at
		   FROM `+gyms+` WHERE id = $1`,
		strings.TrimSpace(gymID),
	).Scan(&g.ID, &g.Name, &g.City, &g.Description, &g.Pictures, &g.AmountOfReviews, &g.OwnerID, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Gym{}, ErrNotFound
	}
	if err != nil {
		return Gym{}, err
	}
	return g, nil
}

// ListGyms returns gyms, optionally filtered by owner and/or a
// case-insensitive name search.
func (s *PostgresStore) ListGyms(ctx context.Context, ownerID, search string) ([]Gym, error) {
	gyms := s.table("gyms")

	query := `SELECT id, name, city, description, pictures, amount_of_reviews, owner_id, created_at
	            FROM ` + gyms + `
	           WHERE ($1 = '' OR owner_id = $1)
	             AND ($2 = '' OR name ILIKE '%' || $2 || '%')
	           ORDER BY name ASC`

	rows, err := s.pool.Query(ctx, query, strings.TrimSpace(ownerID), strings.TrimSpace(search))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Gym
	for rows.Next() {
		var g Gym
		if err := rows.Scan(&g.ID, &g.Name, &g.City, &g.Description, &g.Pictures, &g.AmountOfReviews, &g.OwnerID, &g.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// UpdateGym overwrites the mutable listing fields.
func (s *PostgresStore) UpdateGym(ctx context.Context, g Gym) (Gym, error) {
	gyms := s.table("gyms")

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+gyms+`
		    SET name = $2, city = $3, description = $4, pictures = $5, amount_of_reviews = $6
		  WHERE id = $1`,
		strings.TrimSpace(g.ID), strings.TrimSpace(g.Name), strings.TrimSpace(g.City),
		g.Description, g.Pictures, g.AmountOfReviews,
	)
	if err != nil {
		return Gym{}, err
	}
	if tag.RowsAffected() == 0 {
		return Gym{}, ErrNotFound
	}
	return s.GetGymByID(ctx, g.ID)
}

// DeleteGym removes a listing and its reviews.
func (s *PostgresStore) DeleteGym(ctx context.Context, gymID string) error {
	gyms := s.table("gyms")

	tag, err := s.pool.Exec(ctx, `DELETE FROM `+gyms+` WHERE id = $1`, strings.TrimSpace(gymID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateReview inserts a review and bumps the gym's review counter.
func (s *PostgresStore) CreateReview(ctx context.Context, r Review) (Review, error) {
	if r.Rating < 1 || r.Rating > 5 {
		return Review{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidInput)
	}
	r.Content = strings.TrimSpace(r.Content)
	if r.Content == "" {
		return Review{}, fmt.Errorf("%w: content required", ErrInvalidInput)
	}

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.ID = newID(r.CreatedAt)

	reviews := s.table("reviews")
	gyms := s.table("gyms")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Review{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+reviews+` (id, rating, content, user_id, gym_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Rating, r.Content, strings.TrimSpace(r.UserID), strings.TrimSpace(r.GymID), r.CreatedAt,
	); err != nil {
		return Review{}, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+gyms+` SET amount_of_reviews = amount_of_reviews + 1 WHERE id = $1`,
		strings.TrimSpace(r.GymID),
	); err != nil {
		return Review{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Review{}, err
	}
	return r, nil
}

// ListReviewsForGym returns a gym's reviews newest first.
func (s *PostgresStore) ListReviewsForGym(ctx context.Context, gymID string) ([]Review, error) {
	reviews := s.table("reviews")

	rows, err := s.pool.Query(ctx,
		`SELECT id, rating, content, user_id, gym_id, created_at
		   FROM `+reviews+` WHERE gym_id = $1
		  ORDER BY created_at DESC`,
		strings.TrimSpace(gymID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		var r Review
		if err := rows.Scan(&r.ID, &r.Rating, &r.Content, &r.UserID, &r.GymID, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateReview replaces a review's rating and content.
func (s *PostgresStore) UpdateReview(ctx context.Context, reviewID string, rating int, content string) (Review, error) {
	if rating < 1 || rating > 5 {
		return Review{}, fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidInput)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Review{}, fmt.Errorf("%w: content required", ErrInvalidInput)
	}

	reviews := s.table("reviews")

	var r Review
	err := s.pool.QueryRow(ctx,
		`UPDATE `+reviews+`
		    SET rating = $2, content = $3
		  WHERE id = $1
		RETURNING id, rating, content, user_id, gym_id, created_at`,
		strings.TrimSpace(reviewID), rating, content,
	).Scan(&r.ID, &r.Rating, &r.Content, &r.UserID, &r.GymID, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Review{}, ErrNotFound
	}
	if err != nil {
		return Review{}, err
	}
	return r, nil
}

// DeleteReview removes a review and decrements its gym's counter.
func (s *PostgresStore) DeleteReview(ctx context.Context, reviewID string) error {
	reviews := s.table("reviews")
	gyms := s.table("gyms")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var gymID string
	err = tx.QueryRow(ctx,
		`DELETE FROM `+reviews+` WHERE id = $1 RETURNING gym_id`,
		strings.TrimSpace(reviewID),
	).Scan(&gymID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+gyms+` SET amount_of_reviews = GREATEST(amount_of_reviews - 1, 0) WHERE id = $1`,
		gymID,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func newID(now time.Time) string {
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		panic(err)
	}
	return id.String()
}
