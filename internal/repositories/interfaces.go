package repositories

import (
	"context"

	"github.com/velvetwardrobe/storefront/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CartRepository persists one cart collection and its change marker per namespace.
type CartRepository interface {
	// Read returns the stored collection. Missing or malformed data reads as an empty
	// collection; only backend failures are returned as errors.
	Read(ctx context.Context, namespace string) (domain.CartSnapshot, error)
	// Write stores items, then marker. A failed marker write does not fail the call.
	Write(ctx context.Context, namespace string, items []domain.CartLineItem, marker domain.ChangeMarker) error
	// WriteIfUnchanged stores items and next atomically, provided the stored marker still
	// equals expected. Otherwise it returns a RepositoryError with IsConflict.
	WriteIfUnchanged(ctx context.Context, namespace string, items []domain.CartLineItem, expected, next domain.ChangeMarker) error
	// Marker reads only the change marker (zero when unset).
	Marker(ctx context.Context, namespace string) (domain.ChangeMarker, error)
}

// UserRepository stores registration service members keyed by email.
type UserRepository interface {
	// CreateUser inserts user, returning a conflict RepositoryError when the email exists.
	CreateUser(ctx context.Context, user domain.RegisteredUser) error
	GetUser(ctx context.Context, email string) (domain.RegisteredUser, error)
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
