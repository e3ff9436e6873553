package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/commerce/internal/repositories"
)

// WrapError classifies a Firestore error as a repositories.StoreError so services can map it
// without knowing the backend. Cancellation is returned unwrapped.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		return err
	}

	kind := repositories.ErrorKindUnknown
	switch status.Code(err) {
	case codes.Canceled:
		return context.Canceled
	case codes.NotFound:
		kind = repositories.ErrorKindNotFound
	case codes.AlreadyExists, codes.FailedPrecondition, codes.Aborted:
		kind = repositories.ErrorKindConflict
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal:
		kind = repositories.ErrorKindUnavailable
	}
	return &repositories.StoreError{Op: op, Kind: kind, Err: err}
}
