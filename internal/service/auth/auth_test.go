package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkomarov/tokend/internal/apperrors"
	"github.com/dkomarov/tokend/internal/models"
	"github.com/dkomarov/tokend/internal/repository"
	"github.com/dkomarov/tokend/internal/repository/inmemory"
	"github.com/dkomarov/tokend/internal/repository/postgres"
	"github.com/dkomarov/tokend/internal/service/auth/tokenmanager"
	"github.com/dkomarov/tokend/internal/testutil"
)

func Test_AuthService(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	tokenCtx := models.TokenContext{UserAgent: "test-agent", IPAddress: "127.0.0.1"}

	// Begin new db transaction and create new AuthService
	// Rollback transaction when test stops
	withTx := func(dbpool *pgxpool.Pool, t *testing.T, fn func(tx pgx.Tx, s *AuthService)) {
		testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)

			encoder, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret-key"})
			require.NoError(t, err, "token manager should be created without errors")

			engine, err := NewRotationEngine(RotationConfig{RefreshTTL: 24 * time.Hour}, encoder, storage.Refresh())
			require.NoError(t, err, "rotation engine should be created without errors")

			s, err := NewService(Config{}, engine, storage)
			require.NoError(t, err, "auth service couldn't be started")

			fn(tx, s)
		})
	}

	t.Run("new auth service defaults", func(t *testing.T) {
		encoder, err := tokenmanager.New(tokenmanager.Config{SecretKey: "key"})
		require.NoError(t, err)
		engine, err := NewRotationEngine(RotationConfig{}, encoder, inmemory.NewStorage().Refresh())
		require.NoError(t, err)

		s, err := NewService(Config{}, engine, inmemory.NewStorage())
		require.NoError(t, err, "auth service should be created without errors")

		require.Equal(t, defaultAccessHeaderName, s.accessHeaderName, "default access header name should be set")
		require.Equal(t, defaultAccessAuthScheme, s.accessAuthScheme, "default access auth scheme should be set")
		require.Equal(t, defaultRefreshCookieName, s.refreshCookieName, "default refresh cookie name should be set")
		require.Equal(t, BcryptHasher{}, s.hasher, "default hasher should be set to BcryptHasher")
	})

	t.Run("Register", func(t *testing.T) {
		t.Run("new user ok", func(t *testing.T) {
			withTx(pg.Pool, t, func(_ pgx.Tx, s *AuthService) {
				pair, err := s.Register(t.Context(), "dkomarov", "StrongEnoughPassword", tokenCtx)

				require.NoError(t, err, "registering new user should be ok")
				require.NotEmpty(t, pair.Access.Value, "access token should not be empty")
				require.NotEmpty(t, pair.Refresh.Value, "refresh token should not be empty")
			})
		})

		t.Run("fail if user exists", func(t *testing.T) {
			withTx(pg.Pool, t, func(_ pgx.Tx, s *AuthService) {
				_, err := s.Register(t.Context(), "dkomarov", "pwd-long-enough", tokenCtx)
				require.NoError(t, err, "no error should happen if user not exists")

				_, err = s.Register(t.Context(), "dkomarov", "other-pwd-long", tokenCtx)

				require.Error(t, err)
				require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
			})
		})

		t.Run("failed token issue leaves no user behind", func(t *testing.T) {
			testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
				storage := postgres.NewStorage(tx)
				encoder := &stubEncoder{
					mintAccess: func() (models.IssuedToken, error) {
						return models.IssuedToken{}, apperrors.ErrEncoding
					},
				}

				engine, err := NewRotationEngine(RotationConfig{}, encoder, storage.Refresh())
				require.NoError(t, err)
				s, err := NewService(Config{}, engine, storage)
				require.NoError(t, err)

				_, err = s.Register(t.Context(), "dkomarov", "StrongEnoughPassword", tokenCtx)
				require.ErrorIs(t, err, apperrors.ErrEncoding)

				// The whole registration rolled back with the failed issue
				_, err = storage.User().GetUserByUsername(t.Context(), "dkomarov")
				require.ErrorIs(t, err, apperrors.ErrUserNotFound)
			})
		})
	})

	t.Run("Login", func(t *testing.T) {
		t.Run("ok and touches last login", func(t *testing.T) {
			withTx(pg.Pool, t, func(_ pgx.Tx, s *AuthService) {
				_, err := s.Register(t.Context(), "dkomarov", "StrongEnoughPassword", tokenCtx)
				require.NoError(t, err)

				pair, err := s.Login(t.Context(), "dkomarov", "StrongEnoughPassword", tokenCtx)
				require.NoError(t, err, "login with correct password should be ok")
				require.NotEmpty(t, pair.Refresh.Value)

				user, err := s.storage.User().GetUserByUsername(t.Context(), "dkomarov")
				require.NoError(t, err)
				require.NotNil(t, user.LastLoginAt, "login moment should be recorded")
				assert.WithinDuration(t, time.Now(), *user.LastLoginAt, time.Minute)
			})
		})

		t.Run("wrong password fails", func(t *testing.T) {
			withTx(pg.Pool, t, func(_ pgx.Tx, s *AuthService) {
				_, err := s.Register(t.Context(), "dkomarov", "StrongEnoughPassword", tokenCtx)
				require.NoError(t, err)

				_, err = s.Login(t.Context(), "dkomarov", "wrong-password", tokenCtx)

				require.ErrorIs(t, err, apperrors.ErrUserNotFound)
			})
		})

		t.Run("unknown user fails the same way", func(t *testing.T) {
			withTx(pg.Pool, t, func(_ pgx.Tx, s *AuthService) {
				_, err := s.Login(t.Context(), "nobody", "whatever-password", tokenCtx)

				require.ErrorIs(t, err, apperrors.ErrUserNotFound)
			})
		})

		t.Run("disabled account rejected", func(t *testing.T) {
			withTx(pg.Pool, t, func(tx pgx.Tx, s *AuthService) {
				pair, err := s.Register(t.Context(), "dkomarov", "StrongEnoughPassword", tokenCtx)
				require.NoError(t, err)

				_, err = tx.Exec(t.Context(), "UPDATE users SET is_active = false WHERE username = $1", "dkomarov")
				require.NoError(t, err)

				// Login fails like any bad credential
				_, err = s.Login(t.Context(), "dkomarov", "StrongEnoughPassword", tokenCtx)
				require.ErrorIs(t, err, apperrors.ErrUserNotFound)

				// Previously issued access tokens stop authenticating too
				r := httptest.NewRequest(http.MethodGet, "/", nil)
				s.SetTokenPairToRequest(r, pair)

				_, err = s.GetUserFromRequest(t.Context(), r)
				require.ErrorIs(t, err, apperrors.ErrInvalidCredential)
			})
		})
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("rotates the pair", func(t *testing.T) {
			withTx(pg.Pool, t, func(_ pgx.Tx, s *AuthService) {
				pair, err := s.Register(t.Context(), "dkomarov", "StrongEnoughPassword", tokenCtx)
				require.NoError(t, err)

				fresh, err := s.Refresh(t.Context(), pair.Refresh.Value, tokenCtx)
				require.NoError(t, err)
				require.NotEqual(t, pair.Refresh.Value, fresh.Refresh.Value, "refresh value should be rolled")

				// Old value is spent
				_, err = s.Refresh(t.Context(), pair.Refresh.Value, tokenCtx)
				require.ErrorIs(t, err, apperrors.ErrInvalidCredential)
			})
		})
	})

	t.Run("Logout", func(t *testing.T) {
		t.Run("revokes the session", func(t *testing.T) {
			withTx(pg.Pool, t, func(_ pgx.Tx, s *AuthService) {
				pair, err := s.Register(t.Context(), "dkomarov", "StrongEnoughPassword", tokenCtx)
				require.NoError(t, err)

				require.NoError(t, s.Logout(t.Context(), pair.Refresh.Value))

				_, err = s.Refresh(t.Context(), pair.Refresh.Value, tokenCtx)
				require.ErrorIs(t, err, apperrors.ErrInvalidCredential)
			})
		})

		t.Run("logout all revokes every session", func(t *testing.T) {
			withTx(pg.Pool, t, func(_ pgx.Tx, s *AuthService) {
				pair1, err := s.Register(t.Context(), "dkomarov", "StrongEnoughPassword", tokenCtx)
				require.NoError(t, err)
				pair2, err := s.Login(t.Context(), "dkomarov", "StrongEnoughPassword", tokenCtx)
				require.NoError(t, err)

				user, err := s.storage.User().GetUserByUsername(t.Context(), "dkomarov")
				require.NoError(t, err)

				require.NoError(t, s.LogoutAll(t.Context(), user.ID))

				_, err = s.Refresh(t.Context(), pair1.Refresh.Value, tokenCtx)
				require.ErrorIs(t, err, apperrors.ErrInvalidCredential)
				_, err = s.Refresh(t.Context(), pair2.Refresh.Value, tokenCtx)
				require.ErrorIs(t, err, apperrors.ErrInvalidCredential)
			})
		})
	})

	t.Run("request transport", func(t *testing.T) {
		t.Run("token pair round trip", func(t *testing.T) {
			withTx(pg.Pool, t, func(_ pgx.Tx, s *AuthService) {
				pair, err := s.Register(t.Context(), "dkomarov", "StrongEnoughPassword", tokenCtx)
				require.NoError(t, err)

				// Response side
				w := httptest.NewRecorder()
				s.SetTokenPairToResponse(w, pair)
				resp := w.Result()

				require.Equal(t, defaultAccessAuthScheme+" "+pair.Access.Value, resp.Header.Get(defaultAccessHeaderName))
				require.Len(t, resp.Cookies(), 1)
				cookie := resp.Cookies()[0]
				assert.Equal(t, defaultRefreshCookieName, cookie.Name)
				assert.Equal(t, pair.Refresh.Value, cookie.Value)
				assert.True(t, cookie.HttpOnly, "refresh cookie must not be readable from scripts")

				// Request side
				r := httptest.NewRequest(http.MethodPost, "/", nil)
				s.SetTokenPairToRequest(r, pair)

				refresh, err := s.GetRefreshString(r)
				require.NoError(t, err)
				assert.Equal(t, pair.Refresh.Value, refresh)

				user, err := s.GetUserFromRequest(t.Context(), r)
				require.NoError(t, err)
				assert.Equal(t, "dkomarov", user.Username)
			})
		})

		t.Run("clear tokens expires the cookie", func(t *testing.T) {
			withTx(pg.Pool, t, func(_ pgx.Tx, s *AuthService) {
				w := httptest.NewRecorder()
				s.ClearTokens(w)

				cookies := w.Result().Cookies()
				require.Len(t, cookies, 1)
				assert.Empty(t, cookies[0].Value)
				assert.Negative(t, cookies[0].MaxAge, "cookie should be dropped by the client")
			})
		})

		t.Run("bad auth header rejected", func(t *testing.T) {
			withTx(pg.Pool, t, func(_ pgx.Tx, s *AuthService) {
				for _, header := range []string{"", "Bearer", "Basic dXNlcjpwd2Q=", "Bearer not-a-token"} {
					r := httptest.NewRequest(http.MethodGet, "/", nil)
					if header != "" {
						r.Header.Set(defaultAccessHeaderName, header)
					}

					_, err := s.GetUserFromRequest(t.Context(), r)
					require.ErrorIs(t, err, apperrors.ErrInvalidCredential, "header %q should be rejected", header)
				}
			})
		})

		t.Run("store outage is not an invalid credential", func(t *testing.T) {
			refresh := inmemory.NewStorage().Refresh()
			encoder, err := tokenmanager.New(tokenmanager.Config{SecretKey: "test-secret-key"})
			require.NoError(t, err)
			engine, err := NewRotationEngine(RotationConfig{}, encoder, refresh)
			require.NoError(t, err)

			// User store is down, token signing still works
			s, err := NewService(Config{}, engine, stubStorage{user: failingUserRepo{}, refresh: refresh})
			require.NoError(t, err)

			pair, err := engine.Issue(t.Context(), uuid.New(), models.TokenContext{})
			require.NoError(t, err)

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			s.SetTokenPairToRequest(r, pair)

			_, err = s.GetUserFromRequest(t.Context(), r)
			require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
			require.NotErrorIs(t, err, apperrors.ErrInvalidCredential, "a valid token must not be rejected while the store is down")
		})
	})
}

// Storage assembled from pieces, keeps failure injection per repo
type stubStorage struct {
	user    repository.UserRepo
	refresh repository.RefreshTokenRepo
}

func (s stubStorage) User() repository.UserRepo { return s.user }

func (s stubStorage) Refresh() repository.RefreshTokenRepo { return s.refresh }

func (s stubStorage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	return fn(s)
}

// User repo that fails every call, stands in for an unreachable store
type failingUserRepo struct{}

func (failingUserRepo) CreateUser(ctx context.Context, username string, hashedPassword string) (models.User, error) {
	return models.User{}, errStoreDown
}

func (failingUserRepo) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return models.User{}, errStoreDown
}

func (failingUserRepo) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return models.User{}, errStoreDown
}

func (failingUserRepo) TouchLastLogin(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return errStoreDown
}
