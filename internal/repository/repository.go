package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dkomarov/tokend/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, username string, hashedPassword string) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)

	// Record the moment of a successful login
	TouchLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error
}

// RefreshToken repository interface
// Every method must be safe under concurrent callers for the same token or user
type RefreshTokenRepo interface {
	// Save new token record
	// If the token value collides with an existing one must return apperrors.ErrDuplicateToken
	Save(ctx context.Context, token models.RefreshToken) error

	// Return the record whatever state it is in
	// If absent must return apperrors.ErrInvalidCredential
	Get(ctx context.Context, tokenString string) (models.RefreshToken, error)

	// Return the record only if it is not revoked and not expired at 'now'
	// Otherwise must return apperrors.ErrInvalidCredential
	GetActive(ctx context.Context, tokenString string, now time.Time) (models.RefreshToken, error)

	// Atomically transition an active record to revoked and return it
	// Must be a single conditional write: of N concurrent callers presenting
	// the same value exactly one receives the record, the rest get
	// apperrors.ErrInvalidCredential. Absent, expired and already revoked
	// records fail the same way
	RevokeActive(ctx context.Context, tokenString string, now time.Time) (models.RefreshToken, error)

	// Revoke the record whatever state it is in
	// No-op success if the value is unknown, revoking must not leak whether a token existed
	Revoke(ctx context.Context, tokenString string) error

	// Revoke every non-revoked record of the user, return how many were revoked
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

// Storage combines repositories sharing one underlying connection
type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo

	// Run fn within a db transaction
	InTx(ctx context.Context, fn func(s Storage) error) error
}
