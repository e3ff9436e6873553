package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

// replaceDocument overwrites an existing document, failing with not-found when it is missing.
func replaceDocument[T any](ctx context.Context, provider *pfirestore.Provider, base *pfirestore.BaseRepository[T], id string, data T, op string) error {
	err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewNotFound(op, "document %s not found", id)
			}
			return err
		}
		return tx.Set(ref, data)
	})
	return wrapStoreError(op, err)
}

// insertPerProvider creates a sub-entity document unless the order already has one for the
// same provider.
func insertPerProvider[T any](ctx context.Context, provider *pfirestore.Provider, base *pfirestore.BaseRepository[T], id string, data T, orderID, providerField, providerID, op string) error {
	err := provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		existing, err := tx.Documents(ref.Parent.Where("orderId", "==", orderID).Where(providerField, "==", providerID).Limit(1)).GetAll()
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return repositories.NewConflict(op, "order %s already has a %s entry", orderID, providerID)
		}
		return tx.Create(ref, data)
	})
	return wrapStoreError(op, err)
}

// createDocument inserts a document, failing with a conflict when the id is taken.
func createDocument[T any](ctx context.Context, base *pfirestore.BaseRepository[T], id string, data T, op string) error {
	ref, err := base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, data); err != nil {
		return pfirestore.WrapError(op, err)
	}
	return nil
}

func deleteDocument[T any](ctx context.Context, base *pfirestore.BaseRepository[T], id string, op string) error {
	ref, err := base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx, firestore.Exists); err != nil {
		return pfirestore.WrapError(op, err)
	}
	return nil
}

// wrapStoreError keeps StoreErrors raised inside transactions intact.
func wrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var storeErr *repositories.StoreError
	if errors.As(err, &storeErr) {
		return storeErr
	}
	return pfirestore.WrapError(op, err)
}
