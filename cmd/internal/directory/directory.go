// Package directory holds the gym-listing and review glue: ordinary
// persistence over pgx, no realtime behavior. Gym renames flow through the
// chat service so conversation scope labels stay consistent.
package directory

import (
	"context"
	"time"
)

// Gym is one gym listing.
type Gym struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	City            string    `json:"city"`
	Description     string    `json:"description"`
	Pictures        []string  `json:"pictures"`
	AmountOfReviews int       `json:"amount_of_reviews"`
	OwnerID         string    `json:"owner_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Review is one user review of a gym. Rating is 1..5.
type Review struct {
	ID        string    `json:"id"`
	Rating    int       `json:"rating"`
	Content   string    `json:"content"`
	UserID    string    `json:"user_id"`
	GymID     string    `json:"gym_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the directory persistence boundary.
type Store interface {
	CreateGym(ctx context.Context, g Gym) (Gym, error)
	GetGymByID(ctx context.Context, gymID string) (Gym, error)
	ListGyms(ctx context.Context, ownerID, search string) ([]Gym, error)
	UpdateGym(ctx context.Context, g Gym) (Gym, error)
	DeleteGym(ctx context.Context, gymID string) error

	CreateReview(ctx context.Context, r Review) (Review, error)
	ListReviewsForGym(ctx context.Context, gymID string) ([]Review, error)
	UpdateReview(ctx context.Context, reviewID string, rating int, content string) (Review, error)
	DeleteReview(ctx context.Context, reviewID string) error
}

// ScopeRenamer is the chat collaborator invoked when a gym changes its name;
// it relabels the owner's conversations from the old name to the new one.
type ScopeRenamer interface {
	RenameGymScope(ctx context.Context, ownerID, oldScope, newScope string) (int64, error)
}
