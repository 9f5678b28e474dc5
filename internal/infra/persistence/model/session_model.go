package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionModel mirrors the 'sessions' table. One row per login; a refresh
// rewrites both token hashes on the row instead of inserting a new one.
type SessionModel struct {
	ID               uuid.UUID  `gorm:"type:uuid;primary_key;default:uuid_generate_v7()"`
	UserID           uuid.UUID  `gorm:"type:uuid;not null;index"`
	AccessTokenHash  string     `gorm:"type:varchar(64);unique;not null"`
	RefreshTokenHash string     `gorm:"type:varchar(64);unique;not null"`
	IssuedAt         time.Time  `gorm:"not null"`
	AccessExpiresAt  time.Time  `gorm:"not null"`
	RefreshExpiresAt time.Time  `gorm:"not null;index"`
	RevokedAt        *time.Time `gorm:"index"`
	CreatedAt        time.Time
}

// TableName explicitly sets the table name for GORM.
func (SessionModel) TableName() string {
	return "sessions"
}
