package kv_test

import (
	"context"
	"errors"
	"testing"

	"github.com/velvetwardrobe/storefront/internal/platform/kv"
	"github.com/velvetwardrobe/storefront/internal/platform/kv/kvtest"
)

func TestMemoryStore(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		return kv.NewMemoryStore()
	})
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	store := kv.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.Set(ctx, "k", "v"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		err  *kv.Error
		want error
	}{
		{"not found", kv.NotFound("op", "k"), kv.ErrNotFound},
		{"conflict", kv.Conflict("op", "k"), kv.ErrConflict},
		{"unavailable", kv.NewError("op", kv.KindUnavailable, errors.New("down")), kv.ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.err, tc.want) {
				t.Fatalf("expected %v to match %v", tc.err, tc.want)
			}
			for _, other := range []error{kv.ErrNotFound, kv.ErrConflict, kv.ErrUnavailable} {
				if other != tc.want && errors.Is(tc.err, other) {
					t.Fatalf("%v should not match %v", tc.err, other)
				}
			}
		})
	}
}
