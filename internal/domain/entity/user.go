// Package entity contains the core business objects of the project,
// each representing a unique, identifiable concept within the domain.
package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User represents an account holder in the card-scanning platform.
// Business data attached to the account (scanned cards, companies) is owned
// by other services; the core only needs identity and preferences.
type User struct {
	ID           uuid.UUID      // The unique ID of the user.
	Email        string         // Login email, stored lowercased so uniqueness is case-insensitive.
	PasswordHash string         // bcrypt hash of the user's password. Never the cleartext.
	Name         string         // Display name shown in the UI.
	TenantID     uuid.UUID      // The tenant (organization) this user belongs to.
	Preferences  map[string]any // Free-form UI/notification preferences.
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormalizeEmail lowercases an email address for storage and lookup so that
// uniqueness and authentication are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
