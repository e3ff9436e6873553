package firestore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

// DiscountRepository persists order discounts. Binding changes run in transactions and are
// guarded by the version field.
type DiscountRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[discountDocument]
}

// NewDiscountRepository constructs a Firestore-backed discount repository.
func NewDiscountRepository(provider *pfirestore.Provider) (*DiscountRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	return &DiscountRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[discountDocument](provider, discountsCollection),
	}, nil
}

func (r *DiscountRepository) Insert(ctx context.Context, discount domain.OrderDiscount) error {
	doc := fromDiscount(discount)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if doc.Code != "" {
			client, err := r.provider.Client(ctx)
			if err != nil {
				return err
			}
			snaps, err := tx.Documents(client.Collection(discountsCollection).Where("code", "==", doc.Code)).GetAll()
			if err != nil {
				return err
			}
			for _, snap := range snaps {
				var existing discountDocument
				if err := snap.DataTo(&existing); err != nil {
					return fmt.Errorf("decode discount %s: %w", snap.Ref.ID, err)
				}
				if existing.OrderID != "" && existing.OrderID != doc.OrderID {
					return repositories.NewConflict("discounts.insert", "code %s is bound to another order", doc.Code)
				}
			}
		}
		ref, err := r.base.DocumentRef(ctx, discount.ID)
		if err != nil {
			return err
		}
		return tx.Create(ref, doc)
	})
	return wrapStoreError("discounts.insert", err)
}

func (r *DiscountRepository) Delete(ctx context.Context, discountID string) error {
	return deleteDocument(ctx, r.base, discountID, "discounts.delete")
}

func (r *DiscountRepository) FindByID(ctx context.Context, discountID string) (domain.OrderDiscount, error) {
	doc, err := r.base.Get(ctx, discountID)
	if err != nil {
		return domain.OrderDiscount{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *DiscountRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderDiscount, error) {
	return r.query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Asc)
	})
}

func (r *DiscountRepository) FindByCode(ctx context.Context, code string) ([]domain.OrderDiscount, error) {
	return r.query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).OrderBy("createdAt", firestore.Asc)
	})
}

func (r *DiscountRepository) FindByCodeAndOrder(ctx context.Context, code string, orderID string) (domain.OrderDiscount, error) {
	found, err := r.query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Where("orderId", "==", orderID).Limit(1)
	})
	if err != nil {
		return domain.OrderDiscount{}, err
	}
	if len(found) == 0 || orderID == "" {
		return domain.OrderDiscount{}, repositories.NewNotFound("discounts.findByCodeAndOrder", "code %s not on order %s", code, orderID)
	}
	return found[0], nil
}

func (r *DiscountRepository) FindUnboundByCode(ctx context.Context, code string) (domain.OrderDiscount, error) {
	found, err := r.query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Where("orderId", "==", "").OrderBy("createdAt", firestore.Asc).Limit(1)
	})
	if err != nil {
		return domain.OrderDiscount{}, err
	}
	if len(found) == 0 {
		return domain.OrderDiscount{}, repositories.NewNotFound("discounts.findUnbound", "no unbound discount for code %s", code)
	}
	return found[0], nil
}

func (r *DiscountRepository) Claim(ctx context.Context, discountID string, orderID string, expectedVersion int64, now time.Time) (domain.OrderDiscount, error) {
	return r.rebind(ctx, "discounts.claim", discountID, func(doc *discountDocument) error {
		if doc.OrderID != "" || doc.Version != expectedVersion {
			return repositories.NewConflict("discounts.claim", "discount %s was claimed concurrently", discountID)
		}
		doc.OrderID = orderID
		doc.Version++
		doc.UpdatedAt = now
		return nil
	})
}

func (r *DiscountRepository) Unclaim(ctx context.Context, discountID string, orderID string, claimedVersion int64, now time.Time) (domain.OrderDiscount, error) {
	return r.rebind(ctx, "discounts.unclaim", discountID, func(doc *discountDocument) error {
		if doc.OrderID != orderID || doc.Version != claimedVersion {
			return repositories.NewConflict("discounts.unclaim", "discount %s changed since claim", discountID)
		}
		doc.OrderID = ""
		doc.Reservation = nil
		doc.Version++
		doc.UpdatedAt = now
		return nil
	})
}

func (r *DiscountRepository) UpdateReservation(ctx context.Context, discountID string, reservation map[string]any, now time.Time) error {
	ref, err := r.base.DocumentRef(ctx, discountID)
	if err != nil {
		return err
	}
	updates := []firestore.Update{
		{Path: "reservation", Value: maps.Clone(reservation)},
		{Path: "updatedAt", Value: now},
	}
	if _, err := ref.Update(ctx, updates); err != nil {
		return pfirestore.WrapError("discounts.updateReservation", err)
	}
	return nil
}

func (r *DiscountRepository) rebind(ctx context.Context, op string, discountID string, mutate func(*discountDocument) error) (domain.OrderDiscount, error) {
	var result domain.OrderDiscount
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, discountID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewNotFound(op, "discount %s not found", discountID)
			}
			return err
		}
		var doc discountDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode discount %s: %w", discountID, err)
		}
		if err := mutate(&doc); err != nil {
			return err
		}
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = doc.toDomain(discountID)
		return nil
	})
	if err != nil {
		return domain.OrderDiscount{}, wrapStoreError(op, err)
	}
	return result, nil
}

func (r *DiscountRepository) query(ctx context.Context, build pfirestore.QueryBuilder) ([]domain.OrderDiscount, error) {
	docs, err := r.base.Query(ctx, build)
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderDiscount, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}
