package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/dkomarov/tokend/internal/handlers/middleware"
	"github.com/dkomarov/tokend/internal/logger"
	"github.com/dkomarov/tokend/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(authService authService, logger logger.Logger) http.Handler {
	authMiddleware := middleware.AuthMiddleware(authService)
	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware(h)
	}

	apiauth := http.NewServeMux()

	apiauth.Handle("POST /register", handleRegister(authService, logger))
	apiauth.Handle("POST /login", handleLogin(authService, logger))
	apiauth.Handle("POST /refresh", handleTokenRefresh(authService, logger))
	apiauth.Handle("POST /logout", handleLogout(authService, logger))
	apiauth.Handle("POST /logout-all", withAuth(handleLogoutAll(authService, logger)))
	apiauth.Handle("GET /me", withAuth(handleUserMe()))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Register user with username and password
	// Has to return apperrors.ErrUserAlreadyExists if user already exists
	Register(ctx context.Context, username string, password string, tokenCtx models.TokenContext) (models.TokenPair, error)

	// Login user with username and password
	// Has to return apperrors.ErrUserNotFound if user not found or password wrong
	Login(ctx context.Context, username string, password string, tokenCtx models.TokenContext) (models.TokenPair, error)

	// Rotate the presented refresh token into a fresh pair
	// Has to return apperrors.ErrInvalidCredential whenever the value can't be rotated
	Refresh(ctx context.Context, presented string, tokenCtx models.TokenContext) (models.TokenPair, error)

	// Revoke the presented refresh token, silent on unknown values
	Logout(ctx context.Context, presented string) error

	// Revoke every refresh token of the user
	LogoutAll(ctx context.Context, userID uuid.UUID) error

	// Set auth tokens (access, refresh) to response
	SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair)

	// Drop auth tokens from response
	ClearTokens(w http.ResponseWriter)

	// Get refresh token from request
	GetRefreshString(r *http.Request) (string, error)

	// Get request and return user if it authenticated or error
	GetUserFromRequest(ctx context.Context, r *http.Request) (models.User, error)
}
