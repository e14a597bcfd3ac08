package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dkomarov/tokend/internal/apperrors"
	"github.com/dkomarov/tokend/internal/logger"
	"github.com/dkomarov/tokend/internal/models"
	"github.com/dkomarov/tokend/internal/repository"
)

const defaultRefreshTokenTTL = 7 * 24 * time.Hour

// Encoder mints tokens for the rotation engine
// Implemented by tokenmanager.TokenManager
type Encoder interface {
	MintAccess(userID uuid.UUID) (models.IssuedToken, error)
	MintRefreshValue() (string, error)
	ParseAccess(access string) (uuid.UUID, error)
}

type RotationConfig struct {
	// Refresh token lifetime, fixed at issuance (no sliding expiry)
	// If not set than default is used
	RefreshTTL time.Duration

	// Clock used for every expiry decision, replaceable in tests
	Now func() time.Time

	// Logger for internal diagnostics
	// Nothing logged here is ever surfaced to callers
	Logger logger.Logger
}

// RotationEngine drives the refresh credential state machine:
// ACTIVE -> ROTATED | REVOKED, with expiry as a query time predicate
// The only mutable shared state is the token repository
type RotationEngine struct {
	encoder     Encoder
	refreshRepo repository.RefreshTokenRepo
	refreshTTL  time.Duration
	now         func() time.Time
	logger      logger.Logger
}

func NewRotationEngine(cfg RotationConfig, encoder Encoder, refreshRepo repository.RefreshTokenRepo) (*RotationEngine, error) {
	if encoder == nil || refreshRepo == nil {
		return nil, errors.New("encoder and refresh repo must not be nil")
	}

	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = defaultRefreshTokenTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNoOpLogger()
	}

	return &RotationEngine{
		encoder:     encoder,
		refreshRepo: refreshRepo,
		refreshTTL:  cfg.RefreshTTL,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}, nil
}

// Issue mints a fresh access token and a fresh refresh record for the user
// Used on register, login and as the second half of every rotation
func (e *RotationEngine) Issue(ctx context.Context, userID uuid.UUID, tokenCtx models.TokenContext) (models.TokenPair, error) {
	return e.issueWith(ctx, e.refreshRepo, userID, tokenCtx)
}

// issueWith persists the refresh record through the given repo
// Lets callers scope the write to a transaction they drive themselves
func (e *RotationEngine) issueWith(ctx context.Context, refreshRepo repository.RefreshTokenRepo, userID uuid.UUID, tokenCtx models.TokenContext) (models.TokenPair, error) {
	access, err := e.encoder.MintAccess(userID)
	if err != nil {
		return models.TokenPair{}, err
	}

	now := e.now().Truncate(time.Second)

	// A collision on a 256 bit random value should never happen
	// If it does: scream and retry once with a new value
	for attempt := 0; ; attempt++ {
		refresh, err := e.encoder.MintRefreshValue()
		if err != nil {
			return models.TokenPair{}, err
		}

		record := models.RefreshToken{
			ID:        uuid.New(),
			UserID:    userID,
			Token:     refresh,
			CreatedAt: now,
			ExpiresAt: now.Add(e.refreshTTL),
			UserAgent: tokenCtx.UserAgent,
			IPAddress: tokenCtx.IPAddress,
		}

		err = refreshRepo.Save(ctx, record)
		switch {
		case err == nil:
			return models.TokenPair{
				Access:  access,
				Refresh: models.IssuedToken{Value: refresh, ExpiresAt: record.ExpiresAt},
			}, nil
		case errors.Is(err, apperrors.ErrDuplicateToken) && attempt == 0:
			e.logger.Error("refresh value collision, regenerating", "user_id", userID)
			continue
		case errors.Is(err, apperrors.ErrDuplicateToken):
			return models.TokenPair{}, fmt.Errorf("refresh value collided twice in a row: %w", err)
		default:
			return models.TokenPair{}, fmt.Errorf("error while saving refresh token: %w", e.storeErr(err))
		}
	}
}

// Rotate exchanges an active refresh value for a fresh token pair
// The presented value is single use: the revoke and the lookup are one
// conditional write, so of any number of concurrent callers presenting the
// same value exactly one succeeds and the rest fail with ErrInvalidCredential
// A failed rotation never escalates to owner wide revocation: a stale token
// from a flaky client is far more common than theft
func (e *RotationEngine) Rotate(ctx context.Context, presented string, tokenCtx models.TokenContext) (models.TokenPair, error) {
	record, err := e.refreshRepo.RevokeActive(ctx, presented, e.now())
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidCredential) {
			e.logger.Debug("rotation rejected", "reason", "no active record for presented value")
			return models.TokenPair{}, fmt.Errorf("rotate: %w", apperrors.ErrInvalidCredential)
		}
		return models.TokenPair{}, fmt.Errorf("rotate: %w", e.storeErr(err))
	}

	return e.Issue(ctx, record.UserID, tokenCtx)
}

// Revoke marks the record revoked if it exists
// Unknown values succeed too: logout must not leak whether a token existed
func (e *RotationEngine) Revoke(ctx context.Context, presented string) error {
	if err := e.refreshRepo.Revoke(ctx, presented); err != nil {
		return fmt.Errorf("revoke: %w", e.storeErr(err))
	}
	return nil
}

// RevokeAll revokes every active refresh record of the user ("logout everywhere")
func (e *RotationEngine) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	revoked, err := e.refreshRepo.RevokeAllForUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("revoke all: %w", e.storeErr(err))
	}

	e.logger.Info("revoked all refresh tokens", "user_id", userID, "count", revoked)
	return nil
}

// ParseAccess verifies a signed access token and returns the owner id
func (e *RotationEngine) ParseAccess(access string) (uuid.UUID, error) {
	return e.encoder.ParseAccess(access)
}

// Everything the store reports beyond the domain kinds is an infrastructure
// failure and surfaces as ErrStoreUnavailable
func (e *RotationEngine) storeErr(err error) error {
	switch {
	case errors.Is(err, apperrors.ErrInvalidCredential),
		errors.Is(err, apperrors.ErrDuplicateToken):
		return err
	default:
		e.logger.Error("token store failure", "error", err.Error())
		return apperrors.ErrStoreUnavailable
	}
}
