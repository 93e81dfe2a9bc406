package firestorekv

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/velvetwardrobe/storefront/internal/platform/kv"
)

// wrapError annotates Firestore errors with kv classifications. Context cancellations are
// passed through.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var kvErr *kv.Error
	if errors.As(err, &kvErr) {
		return kvErr
	}

	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.NotFound:
		return kv.NewError(op, kv.KindNotFound, err)
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		return kv.NewError(op, kv.KindConflict, err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal:
		return kv.NewError(op, kv.KindUnavailable, err)
	}
	return kv.NewError(op, kv.KindUnknown, err)
}
