package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

// SubscriptionRepository stores subscriptions spawned by confirmed orders.
type SubscriptionRepository struct {
	base *pfirestore.BaseRepository[subscriptionDocument]
}

// NewSubscriptionRepository constructs a Firestore-backed subscription repository.
func NewSubscriptionRepository(provider *pfirestore.Provider) (*SubscriptionRepository, error) {
	if provider == nil {
		return nil, errors.New("subscription repository requires firestore provider")
	}
	return &SubscriptionRepository{base: pfirestore.NewBaseRepository[subscriptionDocument](provider, subscriptionsCollection)}, nil
}

// Insert fails with a conflict when the id exists. Callers derive ids from the position.
func (r *SubscriptionRepository) Insert(ctx context.Context, s domain.Subscription) error {
	doc := subscriptionDocument{
		UserID:      s.UserID,
		OrderID:     s.OrderID,
		PositionID:  s.PositionID,
		ProductID:   s.ProductID,
		Quantity:    s.Quantity,
		Status:      s.Status,
		PeriodStart: s.PeriodStart,
		PeriodEnd:   s.PeriodEnd,
		TrialEnd:    s.TrialEnd,
		CreatedAt:   s.CreatedAt,
	}
	return createDocument(ctx, r.base, s.ID, doc, "subscriptions.insert")
}

func (r *SubscriptionRepository) FindByPosition(ctx context.Context, positionID string) (domain.Subscription, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("positionId", "==", positionID).Limit(1)
	})
	if err != nil {
		return domain.Subscription{}, err
	}
	if len(docs) == 0 {
		return domain.Subscription{}, repositories.NewNotFound("subscriptions.findByPosition", "no subscription for position %s", positionID)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *SubscriptionRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Subscription, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Subscription, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}

func (d subscriptionDocument) toDomain(id string) domain.Subscription {
	return domain.Subscription{
		ID:          id,
		UserID:      d.UserID,
		OrderID:     d.OrderID,
		PositionID:  d.PositionID,
		ProductID:   d.ProductID,
		Quantity:    d.Quantity,
		Status:      d.Status,
		PeriodStart: d.PeriodStart,
		PeriodEnd:   d.PeriodEnd,
		TrialEnd:    d.TrialEnd,
		CreatedAt:   d.CreatedAt,
	}
}

// DocumentRepository indexes rendered order documents.
type DocumentRepository struct {
	base *pfirestore.BaseRepository[orderDocumentDocument]
}

// NewDocumentRepository constructs a Firestore-backed document index.
func NewDocumentRepository(provider *pfirestore.Provider) (*DocumentRepository, error) {
	if provider == nil {
		return nil, errors.New("document repository requires firestore provider")
	}
	return &DocumentRepository{base: pfirestore.NewBaseRepository[orderDocumentDocument](provider, documentsCollection)}, nil
}

func (r *DocumentRepository) Insert(ctx context.Context, d domain.OrderDocument) error {
	if d.ID == "" {
		return repositories.NewConflict("documents.insert", "document id is required")
	}
	return r.base.Set(ctx, d.ID, orderDocumentDocument{OrderID: d.OrderID, Type: d.Type, Path: d.Path, CreatedAt: d.CreatedAt})
}

func (r *DocumentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.OrderDocument, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.OrderDocument, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.OrderDocument{ID: doc.ID, OrderID: doc.Data.OrderID, Type: doc.Data.Type, Path: doc.Data.Path, CreatedAt: doc.Data.CreatedAt})
	}
	return out, nil
}
