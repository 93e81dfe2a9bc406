package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/velvetwardrobe/storefront/internal/domain"
	"github.com/velvetwardrobe/storefront/internal/repositories"
)

var (
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

const defaultCartWriteAttempts = 3

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartConflict indicates the cart kept changing underneath every write attempt.
var ErrCartConflict = errors.New("cart service: conflict")

// CartConsistency selects how concurrent writers to one namespace are handled.
type CartConsistency string

const (
	// CartConsistencyOptimistic guards every write with the change marker and retries on conflict.
	CartConsistencyOptimistic CartConsistency = "optimistic"
	// CartConsistencyLastWriteWins writes unguarded; a concurrent writer's update may be lost.
	CartConsistencyLastWriteWins CartConsistency = "last_write_wins"
)

// CartServiceDeps wires the repository and change feed dependencies for cart operations.
type CartServiceDeps struct {
	Repository       repositories.CartRepository
	Publisher        ChangePublisher
	Metrics          CartMetrics
	Consistency      CartConsistency
	MaxWriteAttempts int
	Clock            func() time.Time
	Logger           func(context.Context, string, map[string]any)
	IDGenerator      func() string
}

type cartService struct {
	repo        repositories.CartRepository
	publisher   ChangePublisher
	metrics     CartMetrics
	consistency CartConsistency
	attempts    int
	newID       func() string
	now         func() time.Time
	logger      func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	consistency := deps.Consistency
	switch consistency {
	case "":
		consistency = CartConsistencyOptimistic
	case CartConsistencyOptimistic, CartConsistencyLastWriteWins:
	default:
		return nil, fmt.Errorf("cart service: unknown consistency mode %q", consistency)
	}

	attempts := deps.MaxWriteAttempts
	if attempts <= 0 {
		attempts = defaultCartWriteAttempts
	}
	if consistency == CartConsistencyLastWriteWins {
		attempts = 1
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		repo:        deps.Repository,
		publisher:   deps.Publisher,
		metrics:     deps.Metrics,
		consistency: consistency,
		attempts:    attempts,
		newID:       idGen,
		now:         func() time.Time { return deps.Clock().UTC() },
		logger:      logger,
	}, nil
}

// GetCart returns the stored collection for namespace, empty when nothing is stored.
func (s *cartService) GetCart(ctx context.Context, namespace string) (CartSnapshot, error) {
	if s == nil || s.repo == nil {
		return CartSnapshot{}, ErrCartUnavailable
	}
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		return CartSnapshot{}, fmt.Errorf("%w: namespace is required", ErrCartInvalidInput)
	}
	snapshot, err := s.repo.Read(ctx, ns)
	if err != nil {
		return CartSnapshot{}, s.translateRepoError(err)
	}
	return snapshot, nil
}

// AddItem reads the collection, merges the candidate and writes it back.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (AddCartItemResult, error) {
	if s == nil || s.repo == nil {
		return AddCartItemResult{}, ErrCartUnavailable
	}
	ns := strings.TrimSpace(cmd.Namespace)
	if ns == "" {
		return AddCartItemResult{}, fmt.Errorf("%w: namespace is required", ErrCartInvalidInput)
	}
	candidate := cmd.Candidate
	candidate.Name = strings.TrimSpace(candidate.Name)
	if candidate.Name == "" {
		candidate.Name = defaultCandidateName
	}
	if err := validateCandidate(candidate); err != nil {
		return AddCartItemResult{}, err
	}

	for attempt := 1; ; attempt++ {
		snapshot, err := s.repo.Read(ctx, ns)
		if err != nil {
			return AddCartItemResult{}, s.translateRepoError(err)
		}

		now := s.now()
		items, line, merged := MergeCartItem(snapshot.Items, candidate, now, s.newID)
		next := snapshot.Marker.Next(now)

		if s.consistency == CartConsistencyLastWriteWins {
			err = s.repo.Write(ctx, ns, items, next)
		} else {
			err = s.repo.WriteIfUnchanged(ctx, ns, items, snapshot.Marker, next)
		}
		if err == nil {
			s.announce(ctx, ns, next)
			if s.metrics != nil {
				s.metrics.CartItemAdded(merged)
			}
			return AddCartItemResult{
				Cart:   CartSnapshot{Items: items, Marker: next},
				Item:   line,
				Merged: merged,
				Toast:  Toast{Message: line.Name + " added to your cart.", Tone: domain.ToastSuccess},
			}, nil
		}

		if !isRepoConflict(err) {
			return AddCartItemResult{}, s.translateRepoError(err)
		}
		if s.metrics != nil {
			s.metrics.CartWriteConflict()
		}
		s.logger(ctx, "cart.write.conflict", map[string]any{
			"namespace": ns,
			"attempt":   attempt,
			"marker":    snapshot.Marker.String(),
		})
		if attempt >= s.attempts {
			return AddCartItemResult{}, ErrCartConflict
		}
		if err := ctx.Err(); err != nil {
			return AddCartItemResult{}, err
		}
	}
}

func (s *cartService) announce(ctx context.Context, namespace string, marker ChangeMarker) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, domain.ChangeEvent{Namespace: namespace, Marker: marker}); err != nil {
		s.logger(ctx, "cart.changefeed.publish_failed", map[string]any{
			"namespace": namespace,
			"marker":    marker.String(),
			"error":     err.Error(),
		})
	}
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
