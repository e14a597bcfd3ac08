package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkomarov/tokend/internal/apperrors"
	"github.com/dkomarov/tokend/internal/models"
	"github.com/dkomarov/tokend/internal/repository"
)

// Storage keeps everything in process memory behind one mutex
// Reference implementation of repository.Storage: the same conditional
// transition semantics as the postgres backing, handy for tests and for
// running the service without a database
type Storage struct {
	mu      sync.Mutex
	users   map[uuid.UUID]models.User
	byName  map[string]uuid.UUID
	tokens  map[string]models.RefreshToken
	byOwner map[uuid.UUID][]string
}

func NewStorage() *Storage {
	return &Storage{
		users:   make(map[uuid.UUID]models.User),
		byName:  make(map[string]uuid.UUID),
		tokens:  make(map[string]models.RefreshToken),
		byOwner: make(map[uuid.UUID][]string),
	}
}

func (s *Storage) User() repository.UserRepo {
	return (*userRepo)(s)
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return (*refreshTokenRepo)(s)
}

// InTx runs fn under the storage mutex
// There is no rollback: memory has no durability to protect
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	return fn(s)
}

type userRepo Storage

func (r *userRepo) CreateUser(ctx context.Context, username string, hashedPassword string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[username]; ok {
		return models.User{}, fmt.Errorf("repo error: %w", apperrors.ErrUserAlreadyExists)
	}

	user := models.User{
		ID:             uuid.New(),
		CreatedAt:      time.Now(),
		Username:       username,
		HashedPassword: hashedPassword,
		IsActive:       true,
	}
	r.users[user.ID] = user
	r.byName[username] = user.ID

	return user, nil
}

func (r *userRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return user, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}
	return user, nil
}

func (r *userRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byName[username]
	if !ok {
		return models.User{}, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}
	return r.users[userID], nil
}

func (r *userRepo) TouchLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return nil
	}
	user.LastLoginAt = &at
	r.users[userID] = user
	return nil
}

type refreshTokenRepo Storage

func (r *refreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[token.Token]; ok {
		return fmt.Errorf("repo error: %w", apperrors.ErrDuplicateToken)
	}

	r.tokens[token.Token] = token
	r.byOwner[token.UserID] = append(r.byOwner[token.UserID], token.Token)
	return nil
}

func (r *refreshTokenRepo) Get(ctx context.Context, tokenString string) (models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[tokenString]
	if !ok {
		return token, fmt.Errorf("repo error: %w", apperrors.ErrInvalidCredential)
	}
	return token, nil
}

func (r *refreshTokenRepo) GetActive(ctx context.Context, tokenString string, now time.Time) (models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[tokenString]
	if !ok || !token.Active(now) {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrInvalidCredential)
	}
	return token, nil
}

// Check-and-set under the mutex: the same single winner guarantee the
// postgres backing gets from its conditional UPDATE
func (r *refreshTokenRepo) RevokeActive(ctx context.Context, tokenString string, now time.Time) (models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[tokenString]
	if !ok || !token.Active(now) {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrInvalidCredential)
	}

	token.Revoked = true
	r.tokens[tokenString] = token
	return token, nil
}

func (r *refreshTokenRepo) Revoke(ctx context.Context, tokenString string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[tokenString]
	if !ok {
		return nil
	}

	token.Revoked = true
	r.tokens[tokenString] = token
	return nil
}

func (r *refreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var revoked int64
	for _, tokenString := range r.byOwner[userID] {
		token := r.tokens[tokenString]
		if token.Revoked {
			continue
		}
		token.Revoked = true
		r.tokens[tokenString] = token
		revoked++
	}
	return revoked, nil
}
