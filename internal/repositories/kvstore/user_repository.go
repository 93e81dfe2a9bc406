package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/velvetwardrobe/storefront/internal/domain"
	"github.com/velvetwardrobe/storefront/internal/platform/kv"
	"github.com/velvetwardrobe/storefront/internal/repositories"
)

const userKeyPrefix = "user:"

type userDocument struct {
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserRepository keeps registered members in a kv namespace, one key per email.
type UserRepository struct {
	store kv.Store
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a user repository over an already namespaced store.
func NewUserRepository(store kv.Store) (*UserRepository, error) {
	if store == nil {
		return nil, errors.New("user repository requires kv store")
	}
	return &UserRepository{store: store}, nil
}

func userKey(email string) string {
	return userKeyPrefix + strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts user only when no member holds the email yet.
func (r *UserRepository) CreateUser(ctx context.Context, user domain.RegisteredUser) error {
	if strings.TrimSpace(user.Email) == "" {
		return errors.New("user repository: email is required")
	}
	payload, err := json.Marshal(userDocument{
		Name:         user.Name,
		Email:        strings.TrimSpace(user.Email),
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("user repository: encode: %w", err)
	}
	return r.store.SwapIf(ctx, userKey(user.Email), kv.Absent(), string(payload))
}

// GetUser loads the member registered under email.
func (r *UserRepository) GetUser(ctx context.Context, email string) (domain.RegisteredUser, error) {
	raw, err := r.store.Get(ctx, userKey(email))
	if err != nil {
		return domain.RegisteredUser{}, err
	}
	var doc userDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return domain.RegisteredUser{}, fmt.Errorf("user repository: decode: %w", err)
	}
	return domain.RegisteredUser{
		Name:         doc.Name,
		Email:        doc.Email,
		PasswordHash: doc.PasswordHash,
		CreatedAt:    doc.CreatedAt,
	}, nil
}
