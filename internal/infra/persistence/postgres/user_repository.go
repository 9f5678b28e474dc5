package postgres

import (
	"context"
	"encoding/json"

	"cardlens/internal/domain/entity"
	"cardlens/internal/domain/repository"
	"cardlens/internal/infra/persistence/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// userRepository implements repository.UserRepository. Every operation goes
// through the resilience registry, so callers see retry/failover behavior
// without knowing about it.
type userRepository struct {
	registry *Registry
}

// NewUserRepository is the constructor for userRepository.
func NewUserRepository(registry *Registry) repository.UserRepository {
	return &userRepository{registry: registry}
}

// Create persists a new user. The email is normalized before storage so the
// unique index enforces case-insensitive uniqueness.
func (repo *userRepository) Create(ctx context.Context, user *entity.User) error {
	userM, err := fromUserDomain(user)
	if err != nil {
		return err
	}
	userM.Email = entity.NormalizeEmail(userM.Email)

	err = repo.registry.Execute(ctx, AccessWrite, func(db *gorm.DB) error {
		return db.Create(userM).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return repository.ErrEmailTaken
		}

		return errors.Wrap(err, "failed to create user")
	}

	user.ID = userM.ID
	user.CreatedAt = userM.CreatedAt
	user.UpdatedAt = userM.UpdatedAt

	return nil
}

// FindByID retrieves a user by their unique ID.
func (repo *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	var userM model.UserModel

	err := repo.registry.Execute(ctx, AccessRead, func(db *gorm.DB) error {
		return db.Where("id = ?", id).First(&userM).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrUserNotFound
		}

		return nil, errors.Wrap(err, "failed to find user by id")
	}

	return toUserDomain(&userM)
}

// FindByEmail retrieves a user by normalized email.
func (repo *userRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	var userM model.UserModel

	err := repo.registry.Execute(ctx, AccessRead, func(db *gorm.DB) error {
		return db.Where("email = ?", entity.NormalizeEmail(email)).First(&userM).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrUserNotFound
		}

		return nil, errors.Wrap(err, "failed to find user by email")
	}

	return toUserDomain(&userM)
}

// Update persists changes to an existing user.
func (repo *userRepository) Update(ctx context.Context, user *entity.User) error {
	userM, err := fromUserDomain(user)
	if err != nil {
		return err
	}
	userM.Email = entity.NormalizeEmail(userM.Email)

	err = repo.registry.Execute(ctx, AccessWrite, func(db *gorm.DB) error {
		return db.Save(userM).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return repository.ErrEmailTaken
		}

		return errors.Wrap(err, "failed to update user")
	}

	return nil
}

// --- Mapper Functions ---

// toUserDomain converts a GORM UserModel to a domain User entity.
func toUserDomain(data *model.UserModel) (*entity.User, error) {
	if data == nil {
		return nil, nil
	}

	var preferences map[string]any
	if len(data.Preferences) > 0 {
		if err := json.Unmarshal(data.Preferences, &preferences); err != nil {
			return nil, errors.Wrap(err, "failed to decode user preferences")
		}
	}

	return &entity.User{
		ID:           data.ID,
		Email:        data.Email,
		PasswordHash: data.PasswordHash,
		Name:         data.Name,
		TenantID:     data.TenantID,
		Preferences:  preferences,
		CreatedAt:    data.CreatedAt,
		UpdatedAt:    data.UpdatedAt,
	}, nil
}

// fromUserDomain converts a domain User entity to a GORM UserModel.
func fromUserDomain(data *entity.User) (*model.UserModel, error) {
	if data == nil {
		return nil, nil
	}

	var preferences []byte
	if data.Preferences != nil {
		encoded, err := json.Marshal(data.Preferences)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode user preferences")
		}
		preferences = encoded
	}

	return &model.UserModel{
		ID:           data.ID,
		Email:        data.Email,
		PasswordHash: data.PasswordHash,
		Name:         data.Name,
		TenantID:     data.TenantID,
		Preferences:  preferences,
		CreatedAt:    data.CreatedAt,
		UpdatedAt:    data.UpdatedAt,
	}, nil
}
