package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dkomarov/tokend/internal/apperrors"
	"github.com/dkomarov/tokend/internal/models"
	"github.com/dkomarov/tokend/internal/repository"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "refresh_token"
)

// Interface to create or compare user password hashes
type PasswordHasher interface {
	// Generate Hash from password
	Hash(password string) (string, error)

	// Compare known hashedPassword and user provided password
	// Must be protected against timing attacks
	Compare(hashedPassword string, password string) error
}

var DefaultHasher PasswordHasher = BcryptHasher{}

type Config struct {
	// Hasher to use during user registration or login process
	// BcryptHasher is used if not set
	Hasher PasswordHasher

	// Transport details for issued tokens
	// Defaults: access in 'Authorization: Bearer' header, refresh in httpOnly cookie
	AccessHeaderName  string
	AccessAuthScheme  string
	RefreshCookieName string
}

// AuthService orchestrates register, login, refresh and logout use cases
// It composes the rotation engine with the storage and never inspects
// anything about a refresh value beyond handing it to the engine
type AuthService struct {
	engine  *RotationEngine
	hasher  PasswordHasher
	storage repository.Storage

	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string
}

func NewService(cfg Config, engine *RotationEngine, storage repository.Storage) (*AuthService, error) {
	if engine == nil || storage == nil {
		return nil, errors.New("engine and storage must not be nil")
	}

	if cfg.Hasher == nil {
		cfg.Hasher = DefaultHasher
	}
	if cfg.AccessHeaderName == "" {
		cfg.AccessHeaderName = defaultAccessHeaderName
	}
	if cfg.AccessAuthScheme == "" {
		cfg.AccessAuthScheme = defaultAccessAuthScheme
	}
	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = defaultRefreshCookieName
	}

	return &AuthService{
		engine:            engine,
		hasher:            cfg.Hasher,
		storage:           storage,
		accessHeaderName:  cfg.AccessHeaderName,
		accessAuthScheme:  cfg.AccessAuthScheme,
		refreshCookieName: cfg.RefreshCookieName,
	}, nil
}

func (s *AuthService) Register(ctx context.Context, username string, password string, tokenCtx models.TokenContext) (models.TokenPair, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't use this as password, error=%w", err)
	}

	// User creation and the first token pair are one transaction:
	// a failed token insert must not leave a user without a session
	var pair models.TokenPair
	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		user, err := st.User().CreateUser(ctx, username, hash)
		if err != nil {
			return err
		}

		pair, err = s.engine.issueWith(ctx, st.Refresh(), user.ID, tokenCtx)
		return err
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	return pair, nil
}

func (s *AuthService) Login(ctx context.Context, username string, password string, tokenCtx models.TokenContext) (models.TokenPair, error) {
	user, err := s.storage.User().GetUserByUsername(ctx, username)
	if err != nil {
		// Burn comparable time so a missing user is not cheaper than a wrong password
		_ = s.hasher.Compare(dummyHash, password)
		return models.TokenPair{}, apperrors.ErrUserNotFound
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.TokenPair{}, apperrors.ErrUserNotFound
	}

	// Disabled accounts fail the same way as bad credentials
	if !user.IsActive {
		return models.TokenPair{}, apperrors.ErrUserNotFound
	}

	// Login bookkeeping, not worth failing the login over
	_ = s.storage.User().TouchLastLogin(ctx, user.ID, s.engine.now())

	return s.engine.Issue(ctx, user.ID, tokenCtx)
}

// Refresh rotates the presented refresh value into a fresh token pair
// Fails with apperrors.ErrInvalidCredential whenever the value can't be rotated,
// the caller must drop any cached session state on that error
func (s *AuthService) Refresh(ctx context.Context, presented string, tokenCtx models.TokenContext) (models.TokenPair, error) {
	return s.engine.Rotate(ctx, presented, tokenCtx)
}

// Logout revokes the presented refresh value, unknown values succeed silently
func (s *AuthService) Logout(ctx context.Context, presented string) error {
	return s.engine.Revoke(ctx, presented)
}

// LogoutAll revokes every refresh token of the user
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	return s.engine.RevokeAll(ctx, userID)
}

// Get request and return user if it authenticated or error
func (s *AuthService) GetUserFromRequest(ctx context.Context, r *http.Request) (models.User, error) {
	header := r.Header.Get(s.accessHeaderName)

	scheme, access, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, s.accessAuthScheme) {
		return models.User{}, apperrors.ErrInvalidCredential
	}

	userID, err := s.engine.ParseAccess(access)
	if err != nil {
		return models.User{}, err
	}

	user, err := s.storage.User().GetUserByID(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.User{}, apperrors.ErrInvalidCredential
	case err != nil:
		// A store outage is not a verdict on the credential
		return models.User{}, fmt.Errorf("user lookup: %w", apperrors.ErrStoreUnavailable)
	}

	if !user.IsActive {
		return models.User{}, apperrors.ErrInvalidCredential
	}

	return user, nil
}

// Set auth tokens (access, refresh) to response
func (s *AuthService) SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair) {
	w.Header().Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    pair.Refresh.Value,
		Expires:  pair.Refresh.ExpiresAt,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// Set auth tokens (access, refresh) to request. Useful in tests
func (s *AuthService) SetTokenPairToRequest(r *http.Request, pair models.TokenPair) {
	r.Header.Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)
	r.AddCookie(&http.Cookie{
		Name:  s.refreshCookieName,
		Value: pair.Refresh.Value,
	})
}

// Drop auth tokens from response
// Must be called whenever refresh fails: the session can't be recovered
func (s *AuthService) ClearTokens(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// Get refresh token from request
func (s *AuthService) GetRefreshString(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil {
		return "", apperrors.ErrInvalidCredential
	}
	return cookie.Value, nil
}

// Valid bcrypt hash of a random string, used to even out login timing
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
