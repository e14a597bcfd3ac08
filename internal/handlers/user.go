package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dkomarov/tokend/internal/handlers/render"
	"github.com/dkomarov/tokend/internal/handlers/userctx"
)

func handleUserMe() http.Handler {
	type response struct {
		ID          uuid.UUID  `json:"id"`
		Username    string     `json:"username"`
		CreatedAt   time.Time  `json:"created_at"`
		LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		render.JSON(w, response{
			ID:          user.ID,
			Username:    user.Username,
			CreatedAt:   user.CreatedAt,
			LastLoginAt: user.LastLoginAt,
		})
	})
}
