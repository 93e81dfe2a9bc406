// Package firestorekv implements kv.Store with one Firestore document per key.
package firestorekv

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/velvetwardrobe/storefront/internal/platform/firestore"
	"github.com/velvetwardrobe/storefront/internal/platform/kv"
)

type entryDocument struct {
	Key       string    `firestore:"key"`
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// Store keeps entries in a single collection.
type Store struct {
	provider   *pfirestore.Provider
	collection string
	now        func() time.Time
}

var _ kv.Store = (*Store)(nil)

// New builds a store over provider writing to collection.
func New(provider *pfirestore.Provider, collection string) *Store {
	return &Store{provider: provider, collection: collection, now: time.Now}
}

// DocumentID maps a key to a document id. Keys may contain "/" which Firestore reserves.
func DocumentID(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (s *Store) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, kv.NewError("kv.firestore.client", kv.KindUnavailable, err)
	}
	return client.Collection(s.collection).Doc(DocumentID(key)), nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return "", err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", kv.NotFound("kv.firestore.get", key)
		}
		return "", wrapError("kv.firestore.get", err)
	}
	var entry entryDocument
	if err := snap.DataTo(&entry); err != nil {
		return "", kv.NewError("kv.firestore.decode", kv.KindUnknown, err)
	}
	return entry.Value, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, s.entry(key, value)); err != nil {
		return wrapError("kv.firestore.set", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return wrapError("kv.firestore.delete", err)
	}
	return nil
}

var errGuardChanged = errors.New("guard changed")

func (s *Store) SwapIf(ctx context.Context, key string, want kv.Guard, next string, also ...kv.Entry) error {
	const op = "kv.firestore.swap"
	client, err := s.provider.Client(ctx)
	if err != nil {
		return kv.NewError("kv.firestore.client", kv.KindUnavailable, err)
	}
	coll := client.Collection(s.collection)
	guard := coll.Doc(DocumentID(key))

	err = client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var (
			current string
			exists  bool
		)
		snap, err := tx.Get(guard)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var entry entryDocument
			if err := snap.DataTo(&entry); err != nil {
				return err
			}
			current, exists = entry.Value, true
		}
		if !want.Allows(current, exists) {
			return errGuardChanged
		}
		if err := tx.Set(guard, s.entry(key, next)); err != nil {
			return err
		}
		for _, extra := range also {
			if err := tx.Set(coll.Doc(DocumentID(extra.Key)), s.entry(extra.Key, extra.Value)); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, errGuardChanged) {
		return kv.Conflict(op, key)
	}
	return wrapError(op, err)
}

func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.provider.Client(ctx); err != nil {
		return kv.NewError("kv.firestore.ping", kv.KindUnavailable, err)
	}
	return nil
}

// Close releases the provider's client.
func (s *Store) Close() error {
	return s.provider.Close()
}

func (s *Store) entry(key, value string) entryDocument {
	return entryDocument{Key: key, Value: value, UpdatedAt: s.now().UTC()}
}
