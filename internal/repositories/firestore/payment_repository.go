package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

// PaymentRepository persists order payments.
type PaymentRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[paymentDocument]
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errors.New("payment repository requires firestore provider")
	}
	return &PaymentRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[paymentDocument](provider, paymentsCollection),
	}, nil
}

func (r *PaymentRepository) Insert(ctx context.Context, payment domain.OrderPayment) error {
	return insertPerProvider(ctx, r.provider, r.base, payment.ID, fromPayment(payment), payment.OrderID, "paymentProviderId", payment.PaymentProviderID, "payments.insert")
}

func (r *PaymentRepository) Update(ctx context.Context, payment domain.OrderPayment) error {
	return replaceDocument(ctx, r.provider, r.base, payment.ID, fromPayment(payment), "payments.update")
}

func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.OrderPayment, error) {
	doc, err := r.base.Get(ctx, paymentID)
	if err != nil {
		return domain.OrderPayment{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *PaymentRepository) FindByOrderAndProvider(ctx context.Context, orderID string, providerID string) (domain.OrderPayment, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).Where("paymentProviderId", "==", providerID).Limit(1)
	})
	if err != nil {
		return domain.OrderPayment{}, err
	}
	if len(docs) == 0 {
		return domain.OrderPayment{}, repositories.NewNotFound("payments.findByOrder", "no %s payment for order %s", providerID, orderID)
	}
	return docs[0].Data.toDomain(docs[0].ID)
}

func (r *PaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.OrderPayment, error) {
	if strings.TrimSpace(transactionID) == "" {
		return domain.OrderPayment{}, repositories.NewNotFound("payments.findByTransaction", "transaction id is empty")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("transactionId", "==", transactionID).Limit(1)
	})
	if err != nil {
		return domain.OrderPayment{}, err
	}
	if len(docs) == 0 {
		return domain.OrderPayment{}, repositories.NewNotFound("payments.findByTransaction", "no payment for transaction %s", transactionID)
	}
	return docs[0].Data.toDomain(docs[0].ID)
}

// DeliveryRepository persists order deliveries.
type DeliveryRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[deliveryDocument]
}

// NewDeliveryRepository constructs a Firestore-backed delivery repository.
func NewDeliveryRepository(provider *pfirestore.Provider) (*DeliveryRepository, error) {
	if provider == nil {
		return nil, errors.New("delivery repository requires firestore provider")
	}
	return &DeliveryRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[deliveryDocument](provider, deliveriesCollection),
	}, nil
}

func (r *DeliveryRepository) Insert(ctx context.Context, delivery domain.OrderDelivery) error {
	return insertPerProvider(ctx, r.provider, r.base, delivery.ID, fromDelivery(delivery), delivery.OrderID, "deliveryProviderId", delivery.DeliveryProviderID, "deliveries.insert")
}

func (r *DeliveryRepository) Update(ctx context.Context, delivery domain.OrderDelivery) error {
	return replaceDocument(ctx, r.provider, r.base, delivery.ID, fromDelivery(delivery), "deliveries.update")
}

func (r *DeliveryRepository) FindByID(ctx context.Context, deliveryID string) (domain.OrderDelivery, error) {
	doc, err := r.base.Get(ctx, deliveryID)
	if err != nil {
		return domain.OrderDelivery{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *DeliveryRepository) FindByOrderAndProvider(ctx context.Context, orderID string, providerID string) (domain.OrderDelivery, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).Where("deliveryProviderId", "==", providerID).Limit(1)
	})
	if err != nil {
		return domain.OrderDelivery{}, err
	}
	if len(docs) == 0 {
		return domain.OrderDelivery{}, repositories.NewNotFound("deliveries.findByOrder", "no %s delivery for order %s", providerID, orderID)
	}
	return docs[0].Data.toDomain(docs[0].ID)
}
