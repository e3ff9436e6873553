package firestore

import (
	"context"
	"errors"
	"fmt"

	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider

	orders        *OrderRepository
	positions     *PositionRepository
	discounts     *DiscountRepository
	payments      *PaymentRepository
	deliveries    *DeliveryRepository
	products      *ProductRepository
	quotations    *QuotationRepository
	users         *UserRepository
	stock         *StockRepository
	coupons       *CouponRedemptionRepository
	subscriptions *SubscriptionRepository
	documents     *DocumentRepository
	counters      *CounterRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on top of the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	reg := &Registry{provider: provider}
	var err error
	steps := []func() error{
		func() error { reg.orders, err = NewOrderRepository(provider); return err },
		func() error { reg.positions, err = NewPositionRepository(provider); return err },
		func() error { reg.discounts, err = NewDiscountRepository(provider); return err },
		func() error { reg.payments, err = NewPaymentRepository(provider); return err },
		func() error { reg.deliveries, err = NewDeliveryRepository(provider); return err },
		func() error { reg.products, err = NewProductRepository(provider); return err },
		func() error { reg.quotations, err = NewQuotationRepository(provider); return err },
		func() error { reg.users, err = NewUserRepository(provider); return err },
		func() error { reg.stock, err = NewStockRepository(provider); return err },
		func() error { reg.coupons, err = NewCouponRedemptionRepository(provider); return err },
		func() error { reg.subscriptions, err = NewSubscriptionRepository(provider); return err },
		func() error { reg.documents, err = NewDocumentRepository(provider); return err },
		func() error { reg.counters, err = NewCounterRepository(provider); return err },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, fmt.Errorf("firestore registry: %w", err)
		}
	}
	return reg, nil
}

func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

// RunInTx runs fn without an enclosing transaction. Steps that need atomicity (claims,
// counters, stock commits, per-provider inserts) run their own Firestore transactions.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }
func (r *Registry) Positions() repositories.OrderPositionRepository { return r.positions }
func (r *Registry) Discounts() repositories.OrderDiscountRepository { return r.discounts }
func (r *Registry) Payments() repositories.OrderPaymentRepository { return r.payments }
func (r *Registry) Deliveries() repositories.OrderDeliveryRepository { return r.deliveries }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Quotations() repositories.QuotationRepository { return r.quotations }
func (r *Registry) Users() repositories.UserRepository { return r.users }
func (r *Registry) Stock() repositories.StockRepository { return r.stock }
func (r *Registry) Coupons() repositories.CouponRedemptionRepository { return r.coupons }
func (r *Registry) Subscriptions() repositories.SubscriptionRepository { return r.subscriptions }
func (r *Registry) Documents() repositories.DocumentRepository { return r.documents }
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }
