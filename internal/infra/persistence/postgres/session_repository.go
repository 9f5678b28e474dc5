package postgres

import (
	"context"
	"time"

	"cardlens/internal/domain/entity"
	"cardlens/internal/domain/repository"
	"cardlens/internal/infra/persistence/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// sessionRepository implements repository.SessionRepository on top of the
// resilience registry.
type sessionRepository struct {
	registry *Registry
}

// NewSessionRepository is the constructor for sessionRepository.
func NewSessionRepository(registry *Registry) repository.SessionRepository {
	return &sessionRepository{registry: registry}
}

// Create persists a new session row.
func (repo *sessionRepository) Create(ctx context.Context, session *entity.Session) error {
	sessionM := fromSessionDomain(session)

	err := repo.registry.Execute(ctx, AccessWrite, func(db *gorm.DB) error {
		return db.Create(sessionM).Error
	})
	if err != nil {
		return errors.Wrap(err, "failed to create session")
	}

	session.ID = sessionM.ID
	session.CreatedAt = sessionM.CreatedAt

	return nil
}

// FindByAccessTokenHash retrieves a session by the hash of its access token.
func (repo *sessionRepository) FindByAccessTokenHash(ctx context.Context, hash string) (*entity.Session, error) {
	return repo.findOne(ctx, "access_token_hash = ?", hash)
}

// FindByRefreshTokenHash retrieves a session by the hash of its refresh token.
func (repo *sessionRepository) FindByRefreshTokenHash(ctx context.Context, hash string) (*entity.Session, error) {
	return repo.findOne(ctx, "refresh_token_hash = ?", hash)
}

func (repo *sessionRepository) findOne(ctx context.Context, query string, args ...any) (*entity.Session, error) {
	var sessionM model.SessionModel

	err := repo.registry.Execute(ctx, AccessRead, func(db *gorm.DB) error {
		return db.Where(query, args...).First(&sessionM).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}

		return nil, errors.Wrap(err, "failed to find session")
	}

	return toSessionDomain(&sessionM), nil
}

// FindByUserID retrieves all non-revoked sessions for a user, newest first.
func (repo *sessionRepository) FindByUserID(ctx context.Context, userID uuid.UUID) ([]*entity.Session, error) {
	var sessionMs []model.SessionModel

	err := repo.registry.Execute(ctx, AccessRead, func(db *gorm.DB) error {
		return db.
			Where("user_id = ? AND revoked_at IS NULL", userID).
			Order("issued_at DESC").
			Find(&sessionMs).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list sessions by user")
	}

	sessions := make([]*entity.Session, 0, len(sessionMs))
	for i := range sessionMs {
		sessions = append(sessions, toSessionDomain(&sessionMs[i]))
	}

	return sessions, nil
}

// Rotate replaces the token-hash pair and expiries on a live session row.
// The update is conditioned on the row not being revoked, so a revoke that
// raced ahead of the rotation wins.
func (repo *sessionRepository) Rotate(ctx context.Context, session *entity.Session) error {
	var rows int64

	err := repo.registry.Execute(ctx, AccessWrite, func(db *gorm.DB) error {
		result := db.Model(&model.SessionModel{}).
			Where("id = ? AND revoked_at IS NULL", session.ID).
			Updates(map[string]any{
				"access_token_hash":  session.AccessTokenHash,
				"refresh_token_hash": session.RefreshTokenHash,
				"issued_at":          session.IssuedAt,
				"access_expires_at":  session.AccessExpiresAt,
				"refresh_expires_at": session.RefreshExpiresAt,
			})
		rows = result.RowsAffected

		return result.Error
	})
	if err != nil {
		return errors.Wrap(err, "failed to rotate session tokens")
	}
	if rows == 0 {
		return repository.ErrSessionNotFound
	}

	return nil
}

// Revoke marks the session revoked at the given time. Already revoked rows
// are left untouched, which keeps the operation idempotent.
func (repo *sessionRepository) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	err := repo.registry.Execute(ctx, AccessWrite, func(db *gorm.DB) error {
		return db.Model(&model.SessionModel{}).
			Where("id = ? AND revoked_at IS NULL", id).
			Update("revoked_at", at).Error
	})
	if err != nil {
		return errors.Wrap(err, "failed to revoke session")
	}

	return nil
}

// RevokeAllByUserID revokes every live session owned by the user.
func (repo *sessionRepository) RevokeAllByUserID(ctx context.Context, userID uuid.UUID, at time.Time) error {
	err := repo.registry.Execute(ctx, AccessWrite, func(db *gorm.DB) error {
		return db.Model(&model.SessionModel{}).
			Where("user_id = ? AND revoked_at IS NULL", userID).
			Update("revoked_at", at).Error
	})
	if err != nil {
		return errors.Wrap(err, "failed to revoke user sessions")
	}

	return nil
}

// DeleteExpired removes rows whose refresh token expired before the cutoff.
func (repo *sessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var rows int64

	err := repo.registry.Execute(ctx, AccessWrite, func(db *gorm.DB) error {
		result := db.
			Where("refresh_expires_at < ?", cutoff).
			Delete(&model.SessionModel{})
		rows = result.RowsAffected

		return result.Error
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired sessions")
	}

	return rows, nil
}

// --- Mapper Functions ---

// toSessionDomain converts a GORM SessionModel to a domain Session entity.
func toSessionDomain(data *model.SessionModel) *entity.Session {
	if data == nil {
		return nil
	}

	return &entity.Session{
		ID:               data.ID,
		UserID:           data.UserID,
		AccessTokenHash:  data.AccessTokenHash,
		RefreshTokenHash: data.RefreshTokenHash,
		IssuedAt:         data.IssuedAt,
		AccessExpiresAt:  data.AccessExpiresAt,
		RefreshExpiresAt: data.RefreshExpiresAt,
		RevokedAt:        data.RevokedAt,
		CreatedAt:        data.CreatedAt,
	}
}

// fromSessionDomain converts a domain Session entity to a GORM SessionModel.
func fromSessionDomain(data *entity.Session) *model.SessionModel {
	if data == nil {
		return nil
	}

	return &model.SessionModel{
		ID:               data.ID,
		UserID:           data.UserID,
		AccessTokenHash:  data.AccessTokenHash,
		RefreshTokenHash: data.RefreshTokenHash,
		IssuedAt:         data.IssuedAt,
		AccessExpiresAt:  data.AccessExpiresAt,
		RefreshExpiresAt: data.RefreshExpiresAt,
		RevokedAt:        data.RevokedAt,
		CreatedAt:        data.CreatedAt,
	}
}
