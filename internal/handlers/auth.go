package handlers

import (
	"errors"
	"net"
	"net/http"

	"github.com/dkomarov/tokend/internal/apperrors"
	"github.com/dkomarov/tokend/internal/handlers/render"
	"github.com/dkomarov/tokend/internal/handlers/userctx"
	"github.com/dkomarov/tokend/internal/logger"
	"github.com/dkomarov/tokend/internal/models"
)

// Origin descriptor recorded on every issued refresh token, audit only
func tokenContext(r *http.Request) models.TokenContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	return models.TokenContext{
		UserAgent: r.UserAgent(),
		IPAddress: ip,
	}
}

func handleRegister(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Username string `json:"username" validate:"required,min=2,max=50"`
		Password string `json:"password" validate:"required,min=8"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Register(r.Context(), data.Username, data.Password, tokenContext(r))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserAlreadyExists):
				render.ServiceError(w, "User already exists", http.StatusConflict)
			default:
				logger.Error("register failed", "error", err.Error())
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		authService.SetTokenPairToResponse(w, pair)
		render.JSON(w, response{Message: "User registered successfully"})
	})
}

func handleLogin(authService authService, logger logger.Logger) http.Handler {
	type request struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := authService.Login(r.Context(), data.Username, data.Password, tokenContext(r))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrUserNotFound):
				render.ServiceError(w, "Invalid credentials", http.StatusUnauthorized)
			default:
				logger.Error("login failed", "error", err.Error())
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		authService.SetTokenPairToResponse(w, pair)
		render.JSON(w, response{Message: "User logged in successfully"})
	})
}

func handleTokenRefresh(authService authService, logger logger.Logger) http.Handler {
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, err := authService.GetRefreshString(r)
		if err != nil {
			render.ServiceError(w, "Refresh token required", http.StatusUnauthorized)
			return
		}

		pair, err := authService.Refresh(r.Context(), refresh, tokenContext(r))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrStoreUnavailable):
				logger.Error("refresh failed", "error", err.Error())
				render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
			default:
				// Whatever the reason the session can't be recovered, drop it
				authService.ClearTokens(w)
				render.ServiceError(w, "Invalid or expired refresh token", http.StatusUnauthorized)
			}
			return
		}

		authService.SetTokenPairToResponse(w, pair)
		render.JSON(w, response{Message: "Tokens refreshed successfully"})
	})
}

func handleLogout(authService authService, logger logger.Logger) http.Handler {
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Missing cookie is fine, logout is idempotent
		if refresh, err := authService.GetRefreshString(r); err == nil {
			if err := authService.Logout(r.Context(), refresh); err != nil {
				logger.Error("logout failed", "error", err.Error())
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				return
			}
		}

		authService.ClearTokens(w)
		render.JSON(w, response{Message: "Logout successful"})
	})
}

func handleLogoutAll(authService authService, logger logger.Logger) http.Handler {
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := authService.LogoutAll(r.Context(), user.ID); err != nil {
			logger.Error("logout all failed", "error", err.Error())
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		authService.ClearTokens(w)
		render.JSON(w, response{Message: "Logged out from all devices successfully"})
	})
}
