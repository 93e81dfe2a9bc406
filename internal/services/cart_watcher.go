package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/velvetwardrobe/storefront/internal/repositories"
)

const (
	defaultWatchPollInterval = 2 * time.Second
	defaultWatchTimeout      = 25 * time.Second
)

var errWatcherRepositoryRequired = errors.New("cart watcher: repository is required")

// CartWatcherDeps wires the marker source and optional push channel for observers.
type CartWatcherDeps struct {
	Repository   repositories.CartRepository
	Subscriber   ChangeSubscriber
	PollInterval time.Duration
	MaxTimeout   time.Duration
}

type cartWatcher struct {
	repo       repositories.CartRepository
	subscriber ChangeSubscriber
	poll       time.Duration
	maxTimeout time.Duration
}

// NewCartWatcher constructs a watcher. Without a subscriber it relies on polling alone.
func NewCartWatcher(deps CartWatcherDeps) (CartWatcher, error) {
	if deps.Repository == nil {
		return nil, errWatcherRepositoryRequired
	}
	poll := deps.PollInterval
	if poll <= 0 {
		poll = defaultWatchPollInterval
	}
	maxTimeout := deps.MaxTimeout
	if maxTimeout <= 0 {
		maxTimeout = defaultWatchTimeout
	}
	return &cartWatcher{
		repo:       deps.Repository,
		subscriber: deps.Subscriber,
		poll:       poll,
		maxTimeout: maxTimeout,
	}, nil
}

// Wait returns as soon as the stored marker differs from since, or with Changed false once
// timeout elapses. A non-positive or oversized timeout is clamped to the configured maximum.
func (w *cartWatcher) Wait(ctx context.Context, namespace string, since ChangeMarker, timeout time.Duration) (CartChange, error) {
	ns := strings.TrimSpace(namespace)
	if ns == "" {
		return CartChange{}, fmt.Errorf("%w: namespace is required", ErrCartInvalidInput)
	}
	if timeout <= 0 || timeout > w.maxTimeout {
		timeout = w.maxTimeout
	}

	// subscribe before the first read so a write landing in between is not missed
	var events <-chan ChangeEvent
	if w.subscriber != nil {
		ch, cancel := w.subscriber.Subscribe(ns)
		defer cancel()
		events = ch
	}

	check := func() (CartChange, bool, error) {
		marker, err := w.repo.Marker(ctx, ns)
		if err != nil {
			return CartChange{}, false, err
		}
		return CartChange{Changed: marker != since, Marker: marker}, marker != since, nil
	}

	change, done, err := check()
	if err != nil {
		return CartChange{}, translateWatchError(err)
	}
	if done {
		return change, nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return CartChange{}, ctx.Err()
		case <-deadline.C:
			return CartChange{Marker: change.Marker}, nil
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
		case <-ticker.C:
		}
		change, done, err = check()
		if err != nil {
			return CartChange{}, translateWatchError(err)
		}
		if done {
			return change, nil
		}
	}
}

func translateWatchError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}
