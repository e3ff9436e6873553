package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Positions() OrderPositionRepository
	Discounts() OrderDiscountRepository
	Payments() OrderPaymentRepository
	Deliveries() OrderDeliveryRepository
	Products() ProductRepository
	Quotations() QuotationRepository
	Users() UserRepository
	Stock() StockRepository
	Coupons() CouponRedemptionRepository
	Subscriptions() SubscriptionRepository
	Documents() DocumentRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order headers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindOpenByUser returns the user's cart for a country, or a not-found error.
	FindOpenByUser(ctx context.Context, userID string, country string) (domain.Order, error)
}

// OrderPositionRepository persists line items.
type OrderPositionRepository interface {
	Insert(ctx context.Context, position domain.OrderPosition) error
	Update(ctx context.Context, position domain.OrderPosition) error
	Delete(ctx context.Context, positionID string) error
	FindByID(ctx context.Context, positionID string) (domain.OrderPosition, error)
	// ListByOrder returns positions ordered by creation time.
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderPosition, error)
}

// OrderDiscountRepository persists discounts, including unbound single-use codes.
type OrderDiscountRepository interface {
	// Insert rejects a coded discount with a conflict while the code is bound to another order.
	Insert(ctx context.Context, discount domain.OrderDiscount) error
	Delete(ctx context.Context, discountID string) error
	FindByID(ctx context.Context, discountID string) (domain.OrderDiscount, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderDiscount, error)
	FindByCode(ctx context.Context, code string) ([]domain.OrderDiscount, error)
	FindByCodeAndOrder(ctx context.Context, code string, orderID string) (domain.OrderDiscount, error)
	FindUnboundByCode(ctx context.Context, code string) (domain.OrderDiscount, error)
	// Claim binds an unbound record to the order if it is still unbound at expectedVersion.
	// A lost race yields a conflict error.
	Claim(ctx context.Context, discountID string, orderID string, expectedVersion int64, now time.Time) (domain.OrderDiscount, error)
	// Unclaim restores a record to unbound if it is still bound to the order at claimedVersion.
	Unclaim(ctx context.Context, discountID string, orderID string, claimedVersion int64, now time.Time) (domain.OrderDiscount, error)
	UpdateReservation(ctx context.Context, discountID string, reservation map[string]any, now time.Time) error
}

// OrderPaymentRepository persists payments, one per order and provider.
type OrderPaymentRepository interface {
	Insert(ctx context.Context, payment domain.OrderPayment) error
	Update(ctx context.Context, payment domain.OrderPayment) error
	FindByID(ctx context.Context, paymentID string) (domain.OrderPayment, error)
	FindByOrderAndProvider(ctx context.Context, orderID string, providerID string) (domain.OrderPayment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (domain.OrderPayment, error)
}

// OrderDeliveryRepository persists deliveries, one per order and provider.
type OrderDeliveryRepository interface {
	Insert(ctx context.Context, delivery domain.OrderDelivery) error
	Update(ctx context.Context, delivery domain.OrderDelivery) error
	FindByID(ctx context.Context, deliveryID string) (domain.OrderDelivery, error)
	FindByOrderAndProvider(ctx context.Context, orderID string, providerID string) (domain.OrderDelivery, error)
}

// ProductRepository reads catalog products.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	Save(ctx context.Context, product domain.Product) error
}

// QuotationRepository reads and settles quotations.
type QuotationRepository interface {
	FindByID(ctx context.Context, quotationID string) (domain.Quotation, error)
	Save(ctx context.Context, quotation domain.Quotation) error
}

// UserRepository stores the checkout relevant part of user profiles.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	Save(ctx context.Context, user domain.User) error
}

// StockRepository manages per-SKU stock documents transactionally.
type StockRepository interface {
	Get(ctx context.Context, sku string) (domain.StockLevel, error)
	// Commit decrements availability. A missing SKU yields a not-found error, insufficient
	// availability an InventoryError.
	Commit(ctx context.Context, sku string, quantity int, orderID string, now time.Time) (domain.StockLevel, error)
	Set(ctx context.Context, level domain.StockLevel) error
}

// CouponRedemptionRepository tracks redemptions of limited coupons.
type CouponRedemptionRepository interface {
	ReserveRedemption(ctx context.Context, code string, orderID string, maxRedemptions int) (string, error)
	ReleaseRedemption(ctx context.Context, code string, orderID string) error
}

// SubscriptionRepository stores subscriptions spawned by confirmed orders.
type SubscriptionRepository interface {
	Insert(ctx context.Context, subscription domain.Subscription) error
	FindByPosition(ctx context.Context, positionID string) (domain.Subscription, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Subscription, error)
}

// DocumentRepository indexes generated order documents.
type DocumentRepository interface {
	Insert(ctx context.Context, document domain.OrderDocument) error
	ListByOrder(ctx context.Context, orderID string) ([]domain.OrderDocument, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}
