package domain

import "time"

// RegisteredUser is a member account held by the registration service.
type RegisteredUser struct {
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
