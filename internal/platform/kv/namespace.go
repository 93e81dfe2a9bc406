package kv

import (
	"context"
	"strings"
)

const namespaceSeparator = "/"

type namespacedStore struct {
	inner  Store
	prefix string
}

// Namespaced scopes every key of inner under namespace, so callers can use fixed key names
// (such as "velvet_cart") per shopper. Close is a no-op: the inner store stays shared.
func Namespaced(inner Store, namespace string) Store {
	return &namespacedStore{inner: inner, prefix: strings.TrimSpace(namespace) + namespaceSeparator}
}

// NamespacedKey returns the physical key used for key inside namespace.
func NamespacedKey(namespace, key string) string {
	return strings.TrimSpace(namespace) + namespaceSeparator + key
}

func (s *namespacedStore) key(key string) string {
	return s.prefix + key
}

func (s *namespacedStore) Get(ctx context.Context, key string) (string, error) {
	return s.inner.Get(ctx, s.key(key))
}

func (s *namespacedStore) Set(ctx context.Context, key, value string) error {
	return s.inner.Set(ctx, s.key(key), value)
}

func (s *namespacedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.key(key))
}

func (s *namespacedStore) SwapIf(ctx context.Context, key string, guard Guard, next string, also ...Entry) error {
	scoped := make([]Entry, len(also))
	for i, entry := range also {
		scoped[i] = Entry{Key: s.key(entry.Key), Value: entry.Value}
	}
	return s.inner.SwapIf(ctx, s.key(key), guard, next, scoped...)
}

func (s *namespacedStore) Ping(ctx context.Context) error {
	return s.inner.Ping(ctx)
}

func (s *namespacedStore) Close() error { return nil }
