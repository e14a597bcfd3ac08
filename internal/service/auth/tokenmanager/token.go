package tokenmanager

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dkomarov/tokend/internal/apperrors"
	"github.com/dkomarov/tokend/internal/models"
)

const (
	defaultAccessTokenTTL = 15 * time.Minute
	defaultSigningMethod  = "HS256"

	// 32 random bytes give 256 bits of entropy per refresh value
	refreshValueBytesLen = 32
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"uid"`
}

// Token manager config with sensible defaults
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access token lifetime
	// If not set than default is used
	AccessTTL time.Duration
}

// TokenManager mints and verifies tokens, it holds no state beyond the key
// Access tokens are signed self contained claims, refresh values are opaque
// random strings that carry nothing about the owner
type TokenManager struct {
	// Secret key to sign access token
	key string

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access token lifetime
	accessTTL time.Duration

	// Clock, replaceable in tests
	now func() time.Time
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTokenTTL
	}

	return &TokenManager{
		key:       cfg.SecretKey,
		alg:       jwt.GetSigningMethod(cfg.Alg),
		accessTTL: cfg.AccessTTL,
		now:       time.Now,
	}, nil
}

// Mint signed access token for the user
func (m *TokenManager) MintAccess(userID uuid.UUID) (models.IssuedToken, error) {
	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(m.accessTTL)

	accessToken := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(expiresAt),
			},
			UserID: userID,
		},
	)
	access, err := accessToken.SignedString([]byte(m.key))
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token: %w", apperrors.ErrEncoding)
	}

	return models.IssuedToken{Value: access, ExpiresAt: expiresAt}, nil
}

// Mint opaque refresh value
// The value is pure randomness: it must not be derivable from or reveal the
// owner identity, so a leaked value in logs gives away nothing by itself
func (m *TokenManager) MintRefreshValue() (string, error) {
	b := make([]byte, refreshValueBytesLen)
	_, err := rand.Read(b)
	if err != nil {
		return "", fmt.Errorf("error while generating refresh value. Err: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Parse and validate access token
// Every failure reason (bad signature, expired, malformed) collapses to
// apperrors.ErrInvalidCredential so callers get no verification oracle
func (m *TokenManager) ParseAccess(access string) (userID uuid.UUID, err error) {
	claims := &AccessTokenClaims{}

	_, err = jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(m.key), nil },
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("error while parsing or validating token: %w", apperrors.ErrInvalidCredential)
	}

	return claims.UserID, nil
}
