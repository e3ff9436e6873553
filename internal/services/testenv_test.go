package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/delivery"
	"github.com/hanko-field/commerce/internal/discounts"
	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/pricing"
	"github.com/hanko-field/commerce/internal/pricing/rules"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/repositories/memory"
	"github.com/hanko-field/commerce/internal/warehousing"
)

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type stubPaymentProvider struct {
	key      string
	payLater bool
	settle   bool
	chargeFn func(payments.ChargeRequest) (payments.ChargeResult, error)
	charges  []payments.ChargeRequest
	fee      rules.Fee
}

func (p *stubPaymentProvider) Key() string                                 { return p.key }
func (p *stubPaymentProvider) IsActive(context.Context, domain.Order) bool { return true }
func (p *stubPaymentProvider) IsPayLaterAllowed(context.Context, domain.Order, domain.OrderPayment) bool {
	return p.payLater
}

func (p *stubPaymentProvider) Charge(_ context.Context, req payments.ChargeRequest) (payments.ChargeResult, error) {
	p.charges = append(p.charges, req)
	if p.chargeFn != nil {
		return p.chargeFn(req)
	}
	if p.settle {
		return payments.ChargeResult{TransactionID: fmt.Sprintf("txn_%d", len(p.charges)), Settled: true}, nil
	}
	return payments.ChargeResult{Pending: true}, nil
}

func (p *stubPaymentProvider) Sign(context.Context, payments.ChargeRequest) (string, error) {
	return "", payments.ErrNotSupported
}
func (p *stubPaymentProvider) Cancel(context.Context, payments.ChargeRequest) error { return nil }
func (p *stubPaymentProvider) DefaultContext() map[string]any {
	return map[string]any{"provider": p.key}
}

func (p *stubPaymentProvider) TransformContext(_ context.Context, key string, value any) (any, error) {
	if key == "reject" {
		return nil, errors.New("rejected")
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return value, nil
}

func (p *stubPaymentProvider) Fee(context.Context, domain.Order) (rules.Fee, error) {
	return p.fee, nil
}

type stubDeliveryProvider struct {
	key         string
	autoRelease bool
	delivered   bool
	sendErr     error
	onSend      func(delivery.SendRequest)
	sent        []delivery.SendRequest
	fee         rules.Fee
}

func (p *stubDeliveryProvider) Key() string                                 { return p.key }
func (p *stubDeliveryProvider) IsActive(context.Context, domain.Order) bool { return true }
func (p *stubDeliveryProvider) IsAutoReleaseAllowed(context.Context, domain.Order, domain.OrderDelivery) bool {
	return p.autoRelease
}

func (p *stubDeliveryProvider) Send(_ context.Context, req delivery.SendRequest) (delivery.SendResult, error) {
	if p.onSend != nil {
		p.onSend(req)
	}
	if p.sendErr != nil {
		return delivery.SendResult{}, p.sendErr
	}
	p.sent = append(p.sent, req)
	return delivery.SendResult{Delivered: p.delivered, TrackingID: "trk-" + req.Delivery.ID}, nil
}

func (p *stubDeliveryProvider) DefaultContext() map[string]any { return map[string]any{} }
func (p *stubDeliveryProvider) TransformContext(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}
func (p *stubDeliveryProvider) Fee(context.Context, domain.Order) (rules.Fee, error) {
	return p.fee, nil
}

// flakyAdapter accepts FLAKY* codes but can never reserve them.
type flakyAdapter struct{}

func (flakyAdapter) Key() string { return "flaky" }
func (flakyAdapter) IsManualAdditionAllowed(_ context.Context, code string) (bool, error) {
	return strings.HasPrefix(code, "FLAKY"), nil
}
func (flakyAdapter) IsValidForCodeTriggering(context.Context, discounts.Context) (bool, error) {
	return true, nil
}
func (flakyAdapter) IsValidForSystemTriggering(context.Context, discounts.Context) (bool, error) {
	return false, nil
}
func (flakyAdapter) IsValid(context.Context, discounts.Context) (bool, error) { return true, nil }
func (flakyAdapter) Reserve(context.Context, discounts.Context) (map[string]any, error) {
	return nil, errors.New("ledger unavailable")
}
func (flakyAdapter) Release(context.Context, discounts.Context) error { return nil }
func (flakyAdapter) DiscountForPricingAdapterKey(context.Context, discounts.Context, string) *pricing.DiscountConfiguration {
	return nil
}

type recordingQueue struct {
	jobs []WorkQueueJob
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job WorkQueueJob) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, job)
	return fmt.Sprintf("job-%d", len(q.jobs)), nil
}

type recordingDocuments struct {
	statuses []OrderStatus
	err      error
}

func (d *recordingDocuments) Generate(_ context.Context, req DocumentRequest) ([]OrderDocument, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.statuses = append(d.statuses, req.Status)
	return []OrderDocument{{ID: "doc-" + string(req.Status), OrderID: req.Order.ID, Type: string(req.Status)}}, nil
}

type recordingSubscriptions struct {
	items []SubscriptionItem
}

func (r *recordingSubscriptions) Generate(_ context.Context, order Order, items []SubscriptionItem) ([]Subscription, error) {
	r.items = append(r.items, items...)
	out := make([]Subscription, 0, len(items))
	for _, item := range items {
		out = append(out, Subscription{ID: "sub_" + item.Position.ID, OrderID: order.ID, PositionID: item.Position.ID})
	}
	return out, nil
}

type testEnv struct {
	store         *memory.Store
	orders        OrderService
	discounts     DiscountService
	payments      PaymentService
	deliveries    DeliveryService
	card          *stubPaymentProvider
	courier       *stubDeliveryProvider
	queue         *recordingQueue
	documents     *recordingDocuments
	subscriptions *recordingSubscriptions
	events        []string
}

type envOption func(*envConfig)

type envConfig struct {
	settings   CheckoutSettings
	card       *stubPaymentProvider
	courier    *stubDeliveryProvider
	wrapOrders func(repositories.OrderRepository) repositories.OrderRepository
}

func withSettings(settings CheckoutSettings) envOption {
	return func(c *envConfig) { c.settings = settings }
}

func withCard(card *stubPaymentProvider) envOption {
	return func(c *envConfig) { c.card = card }
}

func withCourier(courier *stubDeliveryProvider) envOption {
	return func(c *envConfig) { c.courier = courier }
}

func withOrderRepository(wrap func(repositories.OrderRepository) repositories.OrderRepository) envOption {
	return func(c *envConfig) { c.wrapOrders = wrap }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	cfg := envConfig{
		card:    &stubPaymentProvider{key: "card"},
		courier: &stubDeliveryProvider{key: "courier", autoRelease: true},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	env := &testEnv{
		store:         memory.NewStore(),
		card:          cfg.card,
		courier:       cfg.courier,
		queue:         &recordingQueue{},
		documents:     &recordingDocuments{},
		subscriptions: &recordingSubscriptions{},
	}
	clock := func() time.Time { return testNow }
	seq := 0
	ids := func() string {
		seq++
		return fmt.Sprintf("%04d", seq)
	}
	logger := func(_ context.Context, event string, _ map[string]any) {
		env.events = append(env.events, event)
	}

	director, err := discounts.NewDirector(logger,
		discounts.NewCouponAdapter([]discounts.Coupon{
			{Code: "SAVE10", Rate: decimal.RequireFromString("0.10")},
			{Code: "ONCE", FixedAmount: 100, MaxRedemptions: 1},
		}, env.store.Coupons(), clock),
		discounts.ThresholdAdapter{Thresholds: map[string]int64{"JPY": 5000}, Rate: decimal.RequireFromString("0.05")},
		discounts.VoucherAdapter{Amounts: map[string]int64{"JPY": 200}},
		flakyAdapter{},
	)
	if err != nil {
		t.Fatalf("discount director: %v", err)
	}
	paymentReg, err := payments.NewRegistry([]payments.Provider{env.card})
	if err != nil {
		t.Fatalf("payment registry: %v", err)
	}
	deliveryReg, err := delivery.NewRegistry(env.courier)
	if err != nil {
		t.Fatalf("delivery registry: %v", err)
	}
	stock, err := warehousing.NewStockProvider(env.store.Stock(), clock)
	if err != nil {
		t.Fatalf("stock provider: %v", err)
	}
	warehouses, err := warehousing.NewRegistry(stock)
	if err != nil {
		t.Fatalf("warehousing registry: %v", err)
	}
	directors, err := rules.NewDirectors(rules.DefaultTaxTable(), rules.Extensions{}, pricing.WithLogger(logger))
	if err != nil {
		t.Fatalf("pricing directors: %v", err)
	}

	env.discounts, err = NewDiscountService(DiscountServiceDeps{
		Discounts:   env.store.Discounts(),
		Director:    director,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("discount service: %v", err)
	}
	env.payments, err = NewPaymentService(PaymentServiceDeps{
		Payments:    env.store.Payments(),
		Registry:    paymentReg,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("payment service: %v", err)
	}
	env.deliveries, err = NewDeliveryService(DeliveryServiceDeps{
		Deliveries:  env.store.Deliveries(),
		Registry:    deliveryReg,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      logger,
	})
	if err != nil {
		t.Fatalf("delivery service: %v", err)
	}
	var orderRepo repositories.OrderRepository = env.store.Orders()
	if cfg.wrapOrders != nil {
		orderRepo = cfg.wrapOrders(orderRepo)
	}
	env.orders, err = NewOrderService(OrderServiceDeps{
		Orders:        orderRepo,
		Positions:     env.store.Positions(),
		Discounts:     env.store.Discounts(),
		Payments:      env.store.Payments(),
		Deliveries:    env.store.Deliveries(),
		Products:      env.store.Products(),
		Quotations:    env.store.Quotations(),
		Users:         env.store.Users(),
		Counters:      env.store.Counters(),
		UnitOfWork:    env.store,
		DiscountFlow:  env.discounts,
		PaymentFlow:   env.payments,
		DeliveryFlow:  env.deliveries,
		Pricing:       directors,
		PaymentReg:    paymentReg,
		DeliveryReg:   deliveryReg,
		Warehousing:   warehouses,
		Documents:     env.documents,
		Subscriptions: env.subscriptions,
		WorkQueue:     env.queue,
		Countries:     CountryDirectory{DefaultCountry: "JP", DefaultCurrency: "JPY"},
		Settings:      cfg.settings,
		Clock:         clock,
		IDGenerator:   ids,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	return env
}

func (e *testEnv) saveProduct(t *testing.T, product domain.Product) {
	t.Helper()
	if product.Status == "" {
		product.Status = domain.ProductStatusActive
	}
	if err := e.store.Products().Save(context.Background(), product); err != nil {
		t.Fatalf("save product: %v", err)
	}
}

func stampProduct(id string, amount int64) domain.Product {
	return domain.Product{
		ID:     id,
		SKU:    strings.ToUpper(id),
		Title:  "Stamp " + id,
		Status: domain.ProductStatusActive,
		Prices: []domain.ProductPrice{{Currency: "JPY", Amount: amount, IsTaxable: true}},
	}
}

// cart opens a cart for the user holding quantity units of a 500 JPY product.
func (e *testEnv) cart(t *testing.T, userID string, quantity int) Order {
	t.Helper()
	ctx := context.Background()
	e.saveProduct(t, stampProduct("prod-1", 500))

	order, err := e.orders.CreateOrder(ctx, CreateOrderCommand{UserID: userID, Country: "JP"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if quantity > 0 {
		if _, err := e.orders.AddProductItem(ctx, AddProductItemCommand{OrderID: order.ID, ProductID: "prod-1", Quantity: quantity}); err != nil {
			t.Fatalf("add item: %v", err)
		}
	}
	return order
}

// checkoutReady fills the billing data of a cart.
func (e *testEnv) checkoutReady(t *testing.T, orderID string) Order {
	t.Helper()
	ctx := context.Background()
	if _, err := e.orders.UpdateContact(ctx, UpdateContactCommand{
		OrderID: orderID,
		Contact: Contact{EmailAddress: "buyer@example.com"},
	}); err != nil {
		t.Fatalf("update contact: %v", err)
	}
	order, err := e.orders.UpdateBillingAddress(ctx, UpdateBillingAddressCommand{
		OrderID: orderID,
		Address: Address{Recipient: "Hanko Taro", Line1: "1-2-3 Shibuya", City: "Tokyo", PostalCode: "150-0002", Country: "jp"},
	})
	if err != nil {
		t.Fatalf("update billing address: %v", err)
	}
	return order
}

func (e *testEnv) loggedEvent(name string) bool {
	for _, event := range e.events {
		if event == name {
			return true
		}
	}
	return false
}
