package inmemory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkomarov/tokend/internal/apperrors"
	"github.com/dkomarov/tokend/internal/models"
)

func Test_InMemoryStorage(t *testing.T) {
	t.Parallel()

	now := time.Now()

	newToken := func(userID uuid.UUID, value string, expiresAt time.Time) models.RefreshToken {
		return models.RefreshToken{
			ID:        uuid.New(),
			UserID:    userID,
			Token:     value,
			CreatedAt: now,
			ExpiresAt: expiresAt,
		}
	}

	t.Run("users", func(t *testing.T) {
		repo := NewStorage().User()

		user, err := repo.CreateUser(t.Context(), "dkomarov", "hashed_password")
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, user.ID)
		require.True(t, user.IsActive, "fresh user should be active")

		_, err = repo.CreateUser(t.Context(), "dkomarov", "other_hash")
		require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)

		byName, err := repo.GetUserByUsername(t.Context(), "dkomarov")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byName.ID)

		at := time.Now()
		require.NoError(t, repo.TouchLastLogin(t.Context(), user.ID, at))
		byID, err := repo.GetUserByID(t.Context(), user.ID)
		require.NoError(t, err)
		require.NotNil(t, byID.LastLoginAt)
		assert.True(t, at.Equal(*byID.LastLoginAt))
	})

	t.Run("save and active lookup", func(t *testing.T) {
		repo := NewStorage().Refresh()
		userID := uuid.New()

		require.NoError(t, repo.Save(t.Context(), newToken(userID, "live", now.Add(time.Hour))))
		require.NoError(t, repo.Save(t.Context(), newToken(userID, "expired", now.Add(-time.Minute))))

		err := repo.Save(t.Context(), newToken(userID, "live", now.Add(time.Hour)))
		require.ErrorIs(t, err, apperrors.ErrDuplicateToken)

		_, err = repo.GetActive(t.Context(), "live", now)
		require.NoError(t, err)

		_, err = repo.GetActive(t.Context(), "expired", now)
		require.ErrorIs(t, err, apperrors.ErrInvalidCredential, "expired token is not active even if not revoked")

		_, err = repo.GetActive(t.Context(), "unknown", now)
		require.ErrorIs(t, err, apperrors.ErrInvalidCredential)
	})

	t.Run("revoke semantics", func(t *testing.T) {
		repo := NewStorage().Refresh()
		userID := uuid.New()

		require.NoError(t, repo.Save(t.Context(), newToken(userID, "value", now.Add(time.Hour))))

		got, err := repo.RevokeActive(t.Context(), "value", now)
		require.NoError(t, err)
		assert.True(t, got.Revoked)

		_, err = repo.RevokeActive(t.Context(), "value", now)
		require.ErrorIs(t, err, apperrors.ErrInvalidCredential, "second transition must lose")

		require.NoError(t, repo.Revoke(t.Context(), "value"), "revoke is idempotent")
		require.NoError(t, repo.Revoke(t.Context(), "unknown"), "unknown value is a silent no-op")
	})

	t.Run("revoke all for user", func(t *testing.T) {
		repo := NewStorage().Refresh()
		userID := uuid.New()
		otherID := uuid.New()

		require.NoError(t, repo.Save(t.Context(), newToken(userID, "one", now.Add(time.Hour))))
		require.NoError(t, repo.Save(t.Context(), newToken(userID, "two", now.Add(time.Hour))))
		require.NoError(t, repo.Save(t.Context(), newToken(otherID, "keep", now.Add(time.Hour))))

		revoked, err := repo.RevokeAllForUser(t.Context(), userID)
		require.NoError(t, err)
		require.EqualValues(t, 2, revoked)

		_, err = repo.GetActive(t.Context(), "keep", now)
		require.NoError(t, err, "other user's token stays active")
	})

	t.Run("single winner under concurrency", func(t *testing.T) {
		repo := NewStorage().Refresh()
		require.NoError(t, repo.Save(t.Context(), newToken(uuid.New(), "contested", now.Add(time.Hour))))

		const callers = 64
		var wg sync.WaitGroup
		errs := make([]error, callers)

		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = repo.RevokeActive(context.Background(), "contested", now)
			}()
		}
		wg.Wait()

		var won int
		for _, err := range errs {
			if err == nil {
				won++
				continue
			}
			require.True(t, errors.Is(err, apperrors.ErrInvalidCredential), "losers must see invalid credential, got %v", err)
		}
		require.Equal(t, 1, won)
	})
}
