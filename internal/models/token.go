package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is a persisted refresh credential record
// Token value is unique for the whole lifetime of the system, so a stale
// value presented after rotation is always detectable
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Revoked   bool

	// Origin metadata captured at issuance for audit only
	// Never used in authorization decisions
	UserAgent string
	IPAddress string
}

// Active reports whether the record may still be exchanged at the given moment
func (t RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && t.ExpiresAt.After(now)
}

// TokenContext is the origin descriptor recorded on every issued token
type TokenContext struct {
	UserAgent string
	IPAddress string
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager, AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
