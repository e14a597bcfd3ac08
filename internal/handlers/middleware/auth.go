package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkomarov/tokend/internal/apperrors"
	"github.com/dkomarov/tokend/internal/handlers/render"
	"github.com/dkomarov/tokend/internal/handlers/userctx"
	"github.com/dkomarov/tokend/internal/models"
)

type authService interface {
	GetUserFromRequest(ctx context.Context, r *http.Request) (models.User, error)
}

func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := as.GetUserFromRequest(r.Context(), r)
			if err != nil {
				// An unreachable store must not read as a rejected credential
				if errors.Is(err, apperrors.ErrStoreUnavailable) {
					render.ServiceError(w, "Service unavailable", http.StatusServiceUnavailable)
					return
				}
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := userctx.New(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
