package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

// OrderRepository persists order headers in the orders collection.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return createDocument(ctx, r.base, order.ID, fromOrder(order), "orders.insert")
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	return replaceDocument(ctx, r.provider, r.base, order.ID, fromOrder(order), "orders.update")
}

func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	return deleteDocument(ctx, r.base, orderID, "orders.delete")
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *OrderRepository) FindOpenByUser(ctx context.Context, userID string, country string) (domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("userId", "==", userID).
			Where("country", "==", strings.ToUpper(strings.TrimSpace(country))).
			Where("status", "==", string(domain.OrderStatusOpen)).
			OrderBy("createdAt", firestore.Desc).
			Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, repositories.NewNotFound("orders.findOpen", "no open order for user %s in %s", userID, country)
	}
	return docs[0].Data.toDomain(docs[0].ID)
}

// PositionRepository persists line items in the orderPositions collection.
type PositionRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[positionDocument]
}

// NewPositionRepository constructs a Firestore-backed position repository.
func NewPositionRepository(provider *pfirestore.Provider) (*PositionRepository, error) {
	if provider == nil {
		return nil, errors.New("position repository requires firestore provider")
	}
	return &PositionRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[positionDocument](provider, positionsCollection),
	}, nil
}

func (r *PositionRepository) Insert(ctx context.Context, position domain.OrderPosition) error {
	return createDocument(ctx, r.base, position.ID, fromPosition(position), "positions.insert")
}

func (r *PositionRepository) Update(ctx context.Context, position domain.OrderPosition) error {
	return replaceDocument(ctx, r.provider, r.base, position.ID, fromPosition(position), "positions.update")
}

func (r *PositionRepository) Delete(ctx context.Context, positionID string) error {
	return deleteDocument(ctx, r.base, positionID, "positions.delete")
}

func (r *PositionRepository) FindByID(ctx context.Context, positionID string) (domain.OrderPosition, error) {
	doc, err := r.base.Get(ctx, positionID)
	if err != nil {
		return domain.OrderPosition{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *PositionRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderPosition, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderPosition, 0, len(docs))
	for _, doc := range docs {
		position, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, fmt.Errorf("positions.list: %w", err)
		}
		out = append(out, position)
	}
	return out, nil
}
