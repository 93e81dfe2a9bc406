// Package registrar implements the development registration service the storefront posts
// member sign-ups to.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/velvetwardrobe/storefront/internal/domain"
	"github.com/velvetwardrobe/storefront/internal/repositories"
)

var (
	// ErrMissingFields indicates a sign-up without name, email or password.
	ErrMissingFields = errors.New("registrar: missing fields")
	// ErrUserExists indicates the email is already registered.
	ErrUserExists = errors.New("registrar: user already exists")
	// ErrInvalidCredentials indicates an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("registrar: invalid credentials")
)

// ServiceDeps wires the registrar service.
type ServiceDeps struct {
	Users    repositories.UserRepository
	Clock    func() time.Time
	HashCost int
	Logger   func(context.Context, string, map[string]any)
}

// Service registers and authenticates members.
type Service struct {
	users  repositories.UserRepository
	now    func() time.Time
	cost   int
	logger func(context.Context, string, map[string]any)
}

// NewService constructs the registrar service.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Users == nil {
		return nil, errors.New("registrar: user repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	cost := deps.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Service{users: deps.Users, now: clock, cost: cost, logger: logger}, nil
}

// Register stores a new member with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, req domain.RegistrationRequest) error {
	name := strings.TrimSpace(req.Name)
	email := strings.TrimSpace(req.Email)
	if name == "" || email == "" || req.Password == "" {
		return ErrMissingFields
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return fmt.Errorf("registrar: hash password: %w", err)
	}
	err = s.users.CreateUser(ctx, domain.RegisteredUser{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	})
	if isConflict(err) {
		return ErrUserExists
	}
	if err != nil {
		return err
	}
	s.logger(ctx, "registrar.user.created", map[string]any{"email_domain": emailDomain(email)})
	return nil
}

// Login checks email and password against the stored hash.
func (s *Service) Login(ctx context.Context, email, password string) (domain.RegisteredUser, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return domain.RegisteredUser{}, ErrMissingFields
	}
	user, err := s.users.GetUser(ctx, email)
	if isNotFound(err) {
		return domain.RegisteredUser{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.RegisteredUser{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return domain.RegisteredUser{}, ErrInvalidCredentials
	}
	return user, nil
}

// Acknowledge returns the status line for a send-data call.
func (s *Service) Acknowledge(name string) string {
	return "Data received for " + name
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func emailDomain(email string) string {
	if _, domainPart, ok := strings.Cut(email, "@"); ok {
		return strings.ToLower(domainPart)
	}
	return ""
}
