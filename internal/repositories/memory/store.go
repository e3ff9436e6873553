// Package memory implements the repositories against process memory. It backs local
// development without a Firestore emulator and the service tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// Store holds every collection behind a single mutex, so each repository call is atomic.
type Store struct {
	mu sync.Mutex

	orders        map[string]domain.Order
	positions     map[string]domain.OrderPosition
	discounts     map[string]domain.OrderDiscount
	payments      map[string]domain.OrderPayment
	deliveries    map[string]domain.OrderDelivery
	products      map[string]domain.Product
	quotations    map[string]domain.Quotation
	users         map[string]domain.User
	stock         map[string]domain.StockLevel
	redemptions   map[string]map[string]string
	subscriptions map[string]domain.Subscription
	documents     map[string]domain.OrderDocument
	counters      map[string]int64

	// inserted keeps insertion order for listings with equal timestamps.
	inserted map[string]int64
	seq      int64
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		orders:        map[string]domain.Order{},
		positions:     map[string]domain.OrderPosition{},
		discounts:     map[string]domain.OrderDiscount{},
		payments:      map[string]domain.OrderPayment{},
		deliveries:    map[string]domain.OrderDelivery{},
		products:      map[string]domain.Product{},
		quotations:    map[string]domain.Quotation{},
		users:         map[string]domain.User{},
		stock:         map[string]domain.StockLevel{},
		redemptions:   map[string]map[string]string{},
		subscriptions: map[string]domain.Subscription{},
		documents:     map[string]domain.OrderDocument{},
		counters:      map[string]int64{},
		inserted:      map[string]int64{},
	}
}

func (s *Store) Close(context.Context) error { return nil }

// RunInTx runs fn directly; single calls are already atomic.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *Store) Orders() repositories.OrderRepository { return orderRepo{s} }
func (s *Store) Positions() repositories.OrderPositionRepository { return positionRepo{s} }
func (s *Store) Discounts() repositories.OrderDiscountRepository { return discountRepo{s} }
func (s *Store) Payments() repositories.OrderPaymentRepository { return paymentRepo{s} }
func (s *Store) Deliveries() repositories.OrderDeliveryRepository { return deliveryRepo{s} }
func (s *Store) Products() repositories.ProductRepository { return productRepo{s} }
func (s *Store) Quotations() repositories.QuotationRepository { return quotationRepo{s} }
func (s *Store) Users() repositories.UserRepository { return userRepo{s} }
func (s *Store) Stock() repositories.StockRepository { return stockRepo{s} }
func (s *Store) Coupons() repositories.CouponRedemptionRepository { return couponRepo{s} }
func (s *Store) Subscriptions() repositories.SubscriptionRepository { return subscriptionRepo{s} }
func (s *Store) Documents() repositories.DocumentRepository { return documentRepo{s} }
func (s *Store) Counters() repositories.CounterRepository { return counterRepo{s} }

func (s *Store) track(id string) {
	if _, ok := s.inserted[id]; !ok {
		s.seq++
		s.inserted[id] = s.seq
	}
}

func cloneOrder(o domain.Order) domain.Order {
	o.Calculation = slices.Clone(o.Calculation)
	o.Context = maps.Clone(o.Context)
	o.Log = slices.Clone(o.Log)
	if o.BillingAddress != nil {
		addr := *o.BillingAddress
		o.BillingAddress = &addr
	}
	if o.Contact != nil {
		contact := *o.Contact
		o.Contact = &contact
	}
	return o
}

func clonePosition(p domain.OrderPosition) domain.OrderPosition {
	p.Configuration = slices.Clone(p.Configuration)
	p.Calculation = slices.Clone(p.Calculation)
	p.Scheduling = slices.Clone(p.Scheduling)
	return p
}

func cloneDiscount(d domain.OrderDiscount) domain.OrderDiscount {
	d.Reservation = maps.Clone(d.Reservation)
	if d.OrderID != nil {
		id := *d.OrderID
		d.OrderID = &id
	}
	return d
}

func clonePayment(p domain.OrderPayment) domain.OrderPayment {
	p.Context = maps.Clone(p.Context)
	p.Calculation = slices.Clone(p.Calculation)
	p.Log = slices.Clone(p.Log)
	return p
}

func cloneDelivery(d domain.OrderDelivery) domain.OrderDelivery {
	d.Context = maps.Clone(d.Context)
	d.Calculation = slices.Clone(d.Calculation)
	d.Log = slices.Clone(d.Log)
	return d
}
