// Package identity holds gymhub's user accounts: regular users, gym owners,
// and admins. Credential issuance/verification is not part of this package's
// contract: callers present a stable user id and identity answers lookups.
package identity

import (
	"context"
	"errors"
	"time"
)

// Role is the account role of a user.
type Role string

const (
	RoleUser     Role = "user"
	RoleGymOwner Role = "gym_owner"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleGymOwner, RoleAdmin:
		return true
	default:
		return false
	}
}

// User is a gymhub account.
type User struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Role      Role

	Street    *string
	City      *string
	AvatarURL *string

	// LastAssistAt records the last time the user called the AI endpoint.
	LastAssistAt *time.Time

	CreatedAt time.Time
}

var (
	// ErrNotFound is returned when a user id resolves to no account.
	ErrNotFound = errors.New("identity: user not found")
	// ErrEmailTaken is returned when creating a user with an existing email.
	ErrEmailTaken = errors.New("identity: email already registered")
)

// CreateUserInput describes a registration request. Password is hashed with
// argon2id before storage; the plain password is never persisted.
type CreateUserInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      Role
	Now       time.Time
}

// UpdateUserInput carries optional profile updates; nil fields are untouched.
type UpdateUserInput struct {
	FirstName *string
	LastName  *string
	Street    *string
	City      *string
	AvatarURL *string
}

// Store is the identity persistence boundary.
type Store interface {
	CreateUser(ctx context.Context, in CreateUserInput) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	UpdateUser(ctx context.Context, userID string, in UpdateUserInput) (User, error)

	// FindDisplayName resolves a user id to (firstName, lastName). It is the
	// collaborator interface the chat core consumes for partner listings.
	FindDisplayName(ctx context.Context, userID string) (string, string, error)

	// TouchAssistAccess stamps the user's last AI-endpoint access time.
	TouchAssistAccess(ctx context.Context, userID string, at time.Time) error

	AddFavoriteGym(ctx context.Context, userID, gymID string) error
	RemoveFavoriteGym(ctx context.Context, userID, gymID string) error
	ListFavoriteGyms(ctx context.Context, userID string) ([]string, error)
}
