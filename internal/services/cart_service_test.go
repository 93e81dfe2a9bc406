package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/velvetwardrobe/storefront/internal/domain"
	"github.com/velvetwardrobe/storefront/internal/platform/kv"
	"github.com/velvetwardrobe/storefront/internal/repositories/kvstore"
)

type stubCartRepository struct {
	readFunc             func(ctx context.Context, ns string) (CartSnapshot, error)
	writeFunc            func(ctx context.Context, ns string, items []CartLineItem, marker ChangeMarker) error
	writeIfUnchangedFunc func(ctx context.Context, ns string, items []CartLineItem, expected, next ChangeMarker) error
	markerFunc           func(ctx context.Context, ns string) (ChangeMarker, error)
}

func (s *stubCartRepository) Read(ctx context.Context, ns string) (CartSnapshot, error) {
	if s.readFunc != nil {
		return s.readFunc(ctx, ns)
	}
	return CartSnapshot{Items: []CartLineItem{}}, nil
}

func (s *stubCartRepository) Write(ctx context.Context, ns string, items []CartLineItem, marker ChangeMarker) error {
	if s.writeFunc != nil {
		return s.writeFunc(ctx, ns, items, marker)
	}
	return nil
}

func (s *stubCartRepository) WriteIfUnchanged(ctx context.Context, ns string, items []CartLineItem, expected, next ChangeMarker) error {
	if s.writeIfUnchangedFunc != nil {
		return s.writeIfUnchangedFunc(ctx, ns, items, expected, next)
	}
	return nil
}

func (s *stubCartRepository) Marker(ctx context.Context, ns string) (ChangeMarker, error) {
	if s.markerFunc != nil {
		return s.markerFunc(ctx, ns)
	}
	return 0, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type countingCartMetrics struct {
	added, merged, conflicts int
}

func (m *countingCartMetrics) CartItemAdded(merged bool) {
	m.added++
	if merged {
		m.merged++
	}
}

func (m *countingCartMetrics) CartWriteConflict() { m.conflicts++ }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCartServiceAddItemAppendsAndAnnounces(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	var written []CartLineItem
	repo := &stubCartRepository{
		readFunc: func(ctx context.Context, ns string) (CartSnapshot, error) {
			if ns != "sess-1" {
				t.Fatalf("unexpected namespace %q", ns)
			}
			return CartSnapshot{Items: []CartLineItem{}, Marker: domain.MarkerAt(now) + 10}, nil
		},
		writeIfUnchangedFunc: func(ctx context.Context, ns string, items []CartLineItem, expected, next ChangeMarker) error {
			if expected != domain.MarkerAt(now)+10 {
				t.Fatalf("unexpected expected marker %d", expected)
			}
			if next != expected+1 {
				t.Fatalf("marker must advance past a future marker, got %d", next)
			}
			written = items
			return nil
		},
	}
	publisher := &recordingPublisher{}
	metrics := &countingCartMetrics{}

	svc, err := NewCartService(CartServiceDeps{
		Repository:  repo,
		Publisher:   publisher,
		Metrics:     metrics,
		Clock:       fixedClock(now),
		IDGenerator: func() string { return "01HZX" },
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	result, err := svc.AddItem(context.Background(), AddCartItemCommand{
		Namespace: " sess-1 ",
		Candidate: CartCandidate{Name: " Velvet Gown ", Price: 249.99, Image: "gown.jpg"},
	})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if result.Merged || result.Item.ID != "01HZX" || result.Item.Name != "Velvet Gown" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Toast.Message != "Velvet Gown added to your cart." || result.Toast.Tone != domain.ToastSuccess {
		t.Fatalf("unexpected toast %+v", result.Toast)
	}
	if len(written) != 1 {
		t.Fatalf("expected write of one line, got %+v", written)
	}
	if len(publisher.events) != 1 || publisher.events[0].Namespace != "sess-1" || publisher.events[0].Marker != result.Cart.Marker {
		t.Fatalf("unexpected change events %+v", publisher.events)
	}
	if metrics.added != 1 || metrics.merged != 0 {
		t.Fatalf("unexpected metrics %+v", metrics)
	}
}

func TestCartServiceAddItemRetriesOnConflict(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	reads, writes := 0, 0
	repo := &stubCartRepository{
		readFunc: func(context.Context, string) (CartSnapshot, error) {
			reads++
			return CartSnapshot{Items: []CartLineItem{}, Marker: ChangeMarker(reads)}, nil
		},
		writeIfUnchangedFunc: func(context.Context, string, []CartLineItem, ChangeMarker, ChangeMarker) error {
			writes++
			if writes == 1 {
				return kv.Conflict("kv.test.swap", "velvet_cart_updated_at")
			}
			return nil
		},
	}
	metrics := &countingCartMetrics{}
	svc, err := NewCartService(CartServiceDeps{Repository: repo, Metrics: metrics, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{Namespace: "s", Candidate: CartCandidate{Name: "Scarf"}}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if reads != 2 || writes != 2 {
		t.Fatalf("expected a re-read after the conflict, got reads=%d writes=%d", reads, writes)
	}
	if metrics.conflicts != 1 {
		t.Fatalf("expected one conflict recorded, got %d", metrics.conflicts)
	}
}

func TestCartServiceAddItemGivesUpAfterMaxAttempts(t *testing.T) {
	writes := 0
	repo := &stubCartRepository{
		writeIfUnchangedFunc: func(context.Context, string, []CartLineItem, ChangeMarker, ChangeMarker) error {
			writes++
			return kv.Conflict("kv.test.swap", "velvet_cart_updated_at")
		},
	}
	svc, err := NewCartService(CartServiceDeps{Repository: repo, MaxWriteAttempts: 2, Clock: time.Now})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	_, err = svc.AddItem(context.Background(), AddCartItemCommand{Namespace: "s", Candidate: CartCandidate{Name: "Scarf"}})
	if !errors.Is(err, ErrCartConflict) {
		t.Fatalf("expected ErrCartConflict, got %v", err)
	}
	if writes != 2 {
		t.Fatalf("expected 2 attempts, got %d", writes)
	}
}

func TestCartServiceLastWriteWinsUsesUnguardedWrite(t *testing.T) {
	var wrote bool
	repo := &stubCartRepository{
		writeFunc: func(context.Context, string, []CartLineItem, ChangeMarker) error {
			wrote = true
			return nil
		},
		writeIfUnchangedFunc: func(context.Context, string, []CartLineItem, ChangeMarker, ChangeMarker) error {
			t.Fatal("guarded write must not be used in last_write_wins mode")
			return nil
		},
	}
	svc, err := NewCartService(CartServiceDeps{Repository: repo, Consistency: CartConsistencyLastWriteWins, Clock: time.Now})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{Namespace: "s", Candidate: CartCandidate{Name: "Scarf"}}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if !wrote {
		t.Fatal("expected unguarded write")
	}
}

func TestCartServiceAddItemRejectsInvalidInput(t *testing.T) {
	svc, err := NewCartService(CartServiceDeps{Repository: &stubCartRepository{}, Clock: time.Now})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	cases := []AddCartItemCommand{
		{Namespace: "", Candidate: CartCandidate{Name: "Scarf"}},
		{Namespace: "s", Candidate: CartCandidate{Name: "Scarf", Quantity: -1}},
		{Namespace: "s", Candidate: CartCandidate{Name: "Scarf", Price: -5}},
	}
	for _, cmd := range cases {
		if _, err := svc.AddItem(context.Background(), cmd); !errors.Is(err, ErrCartInvalidInput) {
			t.Fatalf("expected ErrCartInvalidInput for %+v, got %v", cmd, err)
		}
	}
}

func TestCartServiceTranslatesBackendFailures(t *testing.T) {
	repo := &stubCartRepository{
		readFunc: func(context.Context, string) (CartSnapshot, error) {
			return CartSnapshot{}, kv.NewError("kv.sql.get", kv.KindUnavailable, errors.New("connection reset"))
		},
	}
	svc, err := NewCartService(CartServiceDeps{Repository: repo, Clock: time.Now})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	if _, err := svc.GetCart(context.Background(), "s"); !errors.Is(err, ErrCartUnavailable) {
		t.Fatalf("expected ErrCartUnavailable, got %v", err)
	}
}

func TestCartServicePublishFailureDoesNotFailAdd(t *testing.T) {
	var events []string
	svc, err := NewCartService(CartServiceDeps{
		Repository: &stubCartRepository{},
		Publisher:  &recordingPublisher{err: errors.New("topic not found")},
		Clock:      time.Now,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}
	if _, err := svc.AddItem(context.Background(), AddCartItemCommand{Namespace: "s", Candidate: CartCandidate{Name: "Scarf"}}); err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(events) != 1 || events[0] != "cart.changefeed.publish_failed" {
		t.Fatalf("expected publish failure to be logged, got %v", events)
	}
}

func TestNewCartServiceValidatesDeps(t *testing.T) {
	if _, err := NewCartService(CartServiceDeps{Clock: time.Now}); err == nil {
		t.Fatal("expected error without repository")
	}
	if _, err := NewCartService(CartServiceDeps{Repository: &stubCartRepository{}}); err == nil {
		t.Fatal("expected error without clock")
	}
	if _, err := NewCartService(CartServiceDeps{Repository: &stubCartRepository{}, Clock: time.Now, Consistency: "eventual"}); err == nil {
		t.Fatal("expected error for unknown consistency mode")
	}
}

func TestCartServiceConcurrentAddsLoseNoUpdates(t *testing.T) {
	repo, err := kvstore.NewCartRepository(kv.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewCartRepository: %v", err)
	}
	svc, err := NewCartService(CartServiceDeps{Repository: repo, MaxWriteAttempts: 100, Clock: time.Now})
	if err != nil {
		t.Fatalf("NewCartService: %v", err)
	}

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddItem(context.Background(), AddCartItemCommand{
				Namespace: "shared",
				Candidate: CartCandidate{Name: "Velvet Gown", Price: 249.99, Image: "gown.jpg"},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrCartConflict) {
				t.Errorf("AddItem: %v", err)
			}
		}()
	}
	wg.Wait()

	snapshot, err := svc.GetCart(context.Background(), "shared")
	if err != nil {
		t.Fatalf("GetCart: %v", err)
	}
	if len(snapshot.Items) != 1 {
		t.Fatalf("expected one merged line, got %+v", snapshot.Items)
	}
	if snapshot.Items[0].Quantity != succeeded {
		t.Fatalf("lost update: quantity %d after %d successful adds", snapshot.Items[0].Quantity, succeeded)
	}
}

func TestCartServiceAddItemRecoversFromNonCanonicalMarker(t *testing.T) {
	for _, stored := range []string{"", "01700000000000", " 1700000000000", "1700000000000\n"} {
		t.Run(fmt.Sprintf("%q", stored), func(t *testing.T) {
			store := kv.NewMemoryStore()
			if err := store.Set(context.Background(), kv.NamespacedKey("ns", kvstore.CartMarkerKey), stored); err != nil {
				t.Fatalf("seed: %v", err)
			}
			repo, err := kvstore.NewCartRepository(store)
			if err != nil {
				t.Fatalf("NewCartRepository: %v", err)
			}
			svc, err := NewCartService(CartServiceDeps{Repository: repo, Clock: fixedClock(time.UnixMilli(1600000000000))})
			if err != nil {
				t.Fatalf("NewCartService: %v", err)
			}

			result, err := svc.AddItem(context.Background(), AddCartItemCommand{
				Namespace: "ns",
				Candidate: CartCandidate{Name: "Velvet Gown", Price: 249.99, Image: "gown.jpg"},
			})
			if err != nil {
				t.Fatalf("AddItem: %v", err)
			}
			if len(result.Cart.Items) != 1 || result.Cart.Items[0].Quantity != 1 {
				t.Fatalf("unexpected cart %+v", result.Cart.Items)
			}
			raw, err := store.Get(context.Background(), kv.NamespacedKey("ns", kvstore.CartMarkerKey))
			if err != nil || raw != result.Cart.Marker.String() {
				t.Fatalf("expected canonical marker %q, got %q err=%v", result.Cart.Marker.String(), raw, err)
			}
		})
	}
}
