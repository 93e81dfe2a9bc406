// Package kvstore implements the repositories on top of a kv.Store.
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

const (
	// CartKey is the storage key holding the JSON-encoded cart collection.
	CartKey = "velvet_cart"
	// CartMarkerKey holds the decimal millisecond change marker.
	CartMarkerKey = CartKey + "_updated_at"
)

// lineItemDocument mirrors the stored JSON shape of one cart line.
type lineItemDocument struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Image    string  `json:"image"`
	Quantity int     `json:"quantity"`
	AddedAt  int64   `json:"addedAt"`
	ID       string  `json:"id"`
}

// CartRepository stores carts under fixed keys inside each namespace.
type CartRepository struct {
	store  kv.Store
	logger func(context.Context, string, map[string]any)
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// CartRepositoryOption customises the repository.
type CartRepositoryOption func(*CartRepository)

// WithCartLogger receives best-effort failures such as marker writes and corrupt data.
func WithCartLogger(logger func(context.Context, string, map[string]any)) CartRepositoryOption {
	return func(r *CartRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewCartRepository constructs a cart repository over store.
func NewCartRepository(store kv.Store, opts ...CartRepositoryOption) (*CartRepository, error) {
	if store == nil {
		return nil, errors.New("cart repository requires kv store")
	}
	repo := &CartRepository{
		store:  store,
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *CartRepository) scoped(namespace string) (kv.Store, error) {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, errors.New("cart repository: namespace is required")
	}
	return kv.Namespaced(r.store, namespace), nil
}

// Read loads the collection and marker. Corrupt content reads as an empty collection.
func (r *CartRepository) Read(ctx context.Context, namespace string) (domain.CartSnapshot, error) {
	store, err := r.scoped(namespace)
	if err != nil {
		return domain.CartSnapshot{}, err
	}

	raw, err := store.Get(ctx, CartKey)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		raw = ""
	case err != nil:
		return domain.CartSnapshot{}, err
	}

	marker, err := r.readMarker(ctx, store)
	if err != nil {
		return domain.CartSnapshot{}, err
	}

	items, decodeErr := decodeItems(raw)
	if decodeErr != nil {
		r.logger(ctx, "cart.read.corrupt", map[string]any{
			"namespace": namespace,
			"error":     decodeErr.Error(),
		})
		items = []domain.CartLineItem{}
	}
	return domain.CartSnapshot{Items: items, Marker: marker}, nil
}

// Write stores the collection and then the marker. The marker is a best-effort signal.
func (r *CartRepository) Write(ctx context.Context, namespace string, items []domain.CartLineItem, marker domain.ChangeMarker) error {
	store, err := r.scoped(namespace)
	if err != nil {
		return err
	}
	payload, err := encodeItems(items)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, CartKey, payload); err != nil {
		return err
	}
	if err := store.Set(ctx, CartMarkerKey, marker.String()); err != nil {
		r.logger(ctx, "cart.marker.write_failed", map[string]any{
			"namespace": namespace,
			"marker":    marker.String(),
			"error":     err.Error(),
		})
	}
	return nil
}

// WriteIfUnchanged swaps the marker from expected to next and stores items in one atomic step.
func (r *CartRepository) WriteIfUnchanged(ctx context.Context, namespace string, items []domain.CartLineItem, expected, next domain.ChangeMarker) error {
	store, err := r.scoped(namespace)
	if err != nil {
		return err
	}
	if next <= expected {
		return fmt.Errorf("cart repository: marker must advance (expected %d, next %d)", expected, next)
	}
	payload, err := encodeItems(items)
	if err != nil {
		return err
	}
	guard, err := r.markerGuard(ctx, store, expected)
	if err != nil {
		return err
	}
	return store.SwapIf(ctx, CartMarkerKey, guard, next.String(), kv.Entry{Key: CartKey, Value: payload})
}

// markerGuard guards on the exact stored marker bytes, so a marker that only parses after
// trimming or carries leading zeros can still be replaced.
func (r *CartRepository) markerGuard(ctx context.Context, store kv.Store, expected domain.ChangeMarker) (kv.Guard, error) {
	raw, err := store.Get(ctx, CartMarkerKey)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		if expected != 0 {
			return kv.Guard{}, kv.Conflict("cart.marker.guard", CartMarkerKey)
		}
		return kv.Absent(), nil
	case err != nil:
		return kv.Guard{}, err
	}
	if domain.ParseChangeMarker(strings.TrimSpace(raw)) != expected {
		return kv.Guard{}, kv.Conflict("cart.marker.guard", CartMarkerKey)
	}
	return kv.Holds(raw), nil
}

// Marker reads the change marker alone.
func (r *CartRepository) Marker(ctx context.Context, namespace string) (domain.ChangeMarker, error) {
	store, err := r.scoped(namespace)
	if err != nil {
		return 0, err
	}
	return r.readMarker(ctx, store)
}

func (r *CartRepository) readMarker(ctx context.Context, store kv.Store) (domain.ChangeMarker, error) {
	raw, err := store.Get(ctx, CartMarkerKey)
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return domain.ParseChangeMarker(strings.TrimSpace(raw)), nil
}

func decodeItems(raw string) ([]domain.CartLineItem, error) {
	if strings.TrimSpace(raw) == "" {
		return []domain.CartLineItem{}, nil
	}
	var docs []lineItemDocument
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		return nil, err
	}
	items := make([]domain.CartLineItem, 0, len(docs))
	for _, doc := range docs {
		item := domain.CartLineItem{
			ID:       doc.ID,
			Name:     doc.Name,
			Price:    doc.Price,
			Image:    doc.Image,
			Quantity: doc.Quantity,
		}
		if doc.AddedAt > 0 {
			item.AddedAt = time.UnixMilli(doc.AddedAt).UTC()
		}
		items = append(items, item)
	}
	return items, nil
}

func encodeItems(items []domain.CartLineItem) (string, error) {
	docs := make([]lineItemDocument, 0, len(items))
	for _, item := range items {
		doc := lineItemDocument{
			Name:     item.Name,
			Price:    item.Price,
			Image:    item.Image,
			Quantity: item.Quantity,
			ID:       item.ID,
		}
		if !item.AddedAt.IsZero() {
			doc.AddedAt = item.AddedAt.UnixMilli()
		}
		docs = append(docs, doc)
	}
	payload, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("cart repository: encode collection: %w", err)
	}
	return string(payload), nil
}
