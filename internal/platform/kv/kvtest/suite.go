// Package kvtest holds the behaviour every kv.Store backend must share.
package kvtest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/velvetwardrobe/storefront/internal/platform/kv"
)

// Run exercises store semantics against a fresh store from newStore for each case.
func Run(t *testing.T, newStore func(t *testing.T) kv.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "absent")
		if !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		var repoErr interface{ IsNotFound() bool }
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			t.Fatalf("expected classified not found error, got %T", err)
		}
	})

	t.Run("set get delete", func(t *testing.T) {
		store := newStore(t)
		if err := store.Set(ctx, "velvet_cart", `[]`); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := store.Set(ctx, "velvet_cart", `[{"name":"Scarf"}]`); err != nil {
			t.Fatalf("overwrite: %v", err)
		}
		got, err := store.Get(ctx, "velvet_cart")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != `[{"name":"Scarf"}]` {
			t.Fatalf("unexpected value %q", got)
		}
		if err := store.Delete(ctx, "velvet_cart"); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := store.Get(ctx, "velvet_cart"); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("expected not found after delete, got %v", err)
		}
		if err := store.Delete(ctx, "velvet_cart"); err != nil {
			t.Fatalf("deleting a missing key should succeed, got %v", err)
		}
	})

	t.Run("swap if absent", func(t *testing.T) {
		store := newStore(t)
		err := store.SwapIf(ctx, "marker", kv.Absent(), "100", kv.Entry{Key: "payload", Value: "a"})
		if err != nil {
			t.Fatalf("first swap: %v", err)
		}
		err = store.SwapIf(ctx, "marker", kv.Absent(), "200", kv.Entry{Key: "payload", Value: "b"})
		if !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("expected conflict for existing key, got %v", err)
		}
		if got, _ := store.Get(ctx, "payload"); got != "a" {
			t.Fatalf("conflicting swap must not write extra entries, got %q", got)
		}
	})

	t.Run("swap with expected value", func(t *testing.T) {
		store := newStore(t)
		if err := store.Set(ctx, "marker", "100"); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if err := store.SwapIf(ctx, "marker", kv.Holds("99"), "101"); !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("expected conflict for stale guard, got %v", err)
		}
		if err := store.SwapIf(ctx, "marker", kv.Holds("100"), "101", kv.Entry{Key: "payload", Value: "x"}); err != nil {
			t.Fatalf("swap: %v", err)
		}
		marker, _ := store.Get(ctx, "marker")
		payload, _ := store.Get(ctx, "payload")
		if marker != "101" || payload != "x" {
			t.Fatalf("unexpected state marker=%q payload=%q", marker, payload)
		}
	})

	t.Run("empty value is present", func(t *testing.T) {
		store := newStore(t)
		if err := store.Set(ctx, "marker", ""); err != nil {
			t.Fatalf("seed: %v", err)
		}
		if err := store.SwapIf(ctx, "marker", kv.Absent(), "1"); !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("absent guard must not match an empty value, got %v", err)
		}
		if err := store.SwapIf(ctx, "marker", kv.Holds(""), "1", kv.Entry{Key: "payload", Value: "y"}); err != nil {
			t.Fatalf("swap from empty value: %v", err)
		}
		if got, _ := store.Get(ctx, "marker"); got != "1" {
			t.Fatalf("expected marker 1, got %q", got)
		}
		if err := store.SwapIf(ctx, "missing", kv.Holds(""), "1"); !errors.Is(err, kv.ErrConflict) {
			t.Fatalf("holds guard must not match an absent key, got %v", err)
		}
	})

	t.Run("concurrent swaps admit one winner", func(t *testing.T) {
		store := newStore(t)
		if err := store.Set(ctx, "marker", "1"); err != nil {
			t.Fatalf("seed: %v", err)
		}
		const writers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := store.SwapIf(ctx, "marker", kv.Holds("1"), "2")
				if err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
					return
				}
				if !errors.Is(err, kv.ErrConflict) && !errors.Is(err, kv.ErrUnavailable) {
					t.Errorf("unexpected swap error: %v", err)
				}
			}()
		}
		wg.Wait()
		if winners != 1 {
			t.Fatalf("expected exactly one winner, got %d", winners)
		}
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		store := newStore(t)
		alice := kv.Namespaced(store, "alice")
		bob := kv.Namespaced(store, "bob")
		if err := alice.Set(ctx, "velvet_cart", "alice-cart"); err != nil {
			t.Fatalf("set: %v", err)
		}
		if _, err := bob.Get(ctx, "velvet_cart"); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("expected bob to see nothing, got %v", err)
		}
		if err := bob.SwapIf(ctx, "velvet_cart_updated_at", kv.Absent(), "5", kv.Entry{Key: "velvet_cart", Value: "bob-cart"}); err != nil {
			t.Fatalf("swap: %v", err)
		}
		raw, err := store.Get(ctx, kv.NamespacedKey("bob", "velvet_cart"))
		if err != nil || raw != "bob-cart" {
			t.Fatalf("expected physical key to be prefixed, got %q err=%v", raw, err)
		}
		if got, _ := alice.Get(ctx, "velvet_cart"); got != "alice-cart" {
			t.Fatalf("alice cart clobbered: %q", got)
		}
	})
}
