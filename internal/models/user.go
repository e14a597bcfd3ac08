package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID             uuid.UUID
	CreatedAt      time.Time
	LastLoginAt    *time.Time // nil if the user never logged in
	Username       string
	HashedPassword string

	// Disabled accounts keep their rows but can't log in or use issued tokens
	// Managed outside the service, there is no API to flip it
	IsActive bool
}
