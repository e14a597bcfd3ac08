package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dkomarov/tokend/internal/apperrors"
	"github.com/dkomarov/tokend/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const saveToken = `-- name: SaveRefreshToken
INSERT INTO refresh_tokens (id, user_id, token, created_at, expires_at, revoked, user_agent, ip_address)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) error {
	_, err := r.DB.Exec(ctx, saveToken,
		token.ID, token.UserID, token.Token,
		token.CreatedAt, token.ExpiresAt, token.Revoked,
		token.UserAgent, token.IPAddress,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("repo error: %w", apperrors.ErrDuplicateToken)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const getToken = `-- name: GetToken by token value
SELECT id, user_id, created_at, expires_at, revoked, user_agent, ip_address
FROM refresh_tokens
WHERE token = $1
`

// Get token
// It should return result even if it revoked or expired already
func (r *RefreshTokenRepo) Get(ctx context.Context, tokenString string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getToken, tokenString)
	return collectToken(rows, tokenString)
}

const getActiveToken = `-- name: GetActiveToken
SELECT id, user_id, created_at, expires_at, revoked, user_agent, ip_address
FROM refresh_tokens
WHERE token = $1 AND NOT revoked AND expires_at > $2
`

func (r *RefreshTokenRepo) GetActive(ctx context.Context, tokenString string, now time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getActiveToken, tokenString, now)
	return collectToken(rows, tokenString)
}

const revokeActiveToken = `-- name: RevokeActiveToken
UPDATE refresh_tokens
SET revoked = TRUE
WHERE token = $1 AND NOT revoked AND expires_at > $2
RETURNING id, user_id, created_at, expires_at, revoked, user_agent, ip_address
`

// Atomically revoke an active token and return it
// The conditional update matches at most one row and only while the row is
// still active, so concurrent callers presenting the same value race on a
// single write: one of them gets the row, the rest get ErrInvalidCredential
func (r *RefreshTokenRepo) RevokeActive(ctx context.Context, tokenString string, now time.Time) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, revokeActiveToken, tokenString, now)
	return collectToken(rows, tokenString)
}

const revokeToken = `-- name: RevokeToken
UPDATE refresh_tokens
SET revoked = TRUE
WHERE token = $1
`

// Revoke token in whatever state it is
// Unknown values succeed as well: logout must not leak whether a token existed
func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenString string) error {
	_, err := r.DB.Exec(ctx, revokeToken, tokenString)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const revokeAllForUser = `-- name: RevokeAllForUser
UPDATE refresh_tokens
SET revoked = TRUE
WHERE user_id = $1 AND NOT revoked
`

func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAllForUser, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectToken(rows pgx.Rows, tokenString string) (models.RefreshToken, error) {
	token, err := pgx.CollectOneRow(rows, func(row pgx.CollectableRow) (models.RefreshToken, error) {
		t := models.RefreshToken{Token: tokenString}
		err := row.Scan(&t.ID, &t.UserID, &t.CreatedAt, &t.ExpiresAt, &t.Revoked, &t.UserAgent, &t.IPAddress)
		return t, err
	})

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrInvalidCredential)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}
