package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/pricing"
)

func TestNewOrderServiceRequiresRepositories(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestCreateOrderReusesOpenCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.orders.CreateOrder(ctx, CreateOrderCommand{UserID: "user-1", Country: "jp"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if first.Currency != "JPY" || first.Country != "JP" {
		t.Fatalf("expected JPY/JP cart, got %s/%s", first.Currency, first.Country)
	}
	if first.PaymentID == "" || first.DeliveryID == "" {
		t.Fatalf("expected default providers to be selected, got payment=%q delivery=%q", first.PaymentID, first.DeliveryID)
	}

	second, err := env.orders.CreateOrder(ctx, CreateOrderCommand{UserID: "user-1", Country: "JP"})
	if err != nil {
		t.Fatalf("create order again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected open cart %s to be reused, got %s", first.ID, second.ID)
	}
}

func TestCreateOrderDerivesCountryFromLocale(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.store.Users().Save(ctx, domain.User{ID: "user-de", Locale: "de-DE"}); err != nil {
		t.Fatalf("save user: %v", err)
	}

	order, err := env.orders.CreateOrder(ctx, CreateOrderCommand{UserID: "user-de"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Country != "DE" || order.Currency != "EUR" {
		t.Fatalf("expected DE/EUR cart, got %s/%s", order.Country, order.Currency)
	}
}

func TestAddProductItemMergesSameConfiguration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.cart(t, "user-1", 1)

	config := []ConfigurationEntry{{Key: "engraving", Value: "山田"}}
	first, err := env.orders.AddProductItem(ctx, AddProductItemCommand{OrderID: order.ID, ProductID: "prod-1", Quantity: 1, Configuration: config})
	if err != nil {
		t.Fatalf("add configured item: %v", err)
	}
	merged, err := env.orders.AddProductItem(ctx, AddProductItemCommand{OrderID: order.ID, ProductID: "prod-1", Quantity: 2, Configuration: config})
	if err != nil {
		t.Fatalf("add configured item again: %v", err)
	}
	if merged.ID != first.ID || merged.Quantity != 3 {
		t.Fatalf("expected merge into %s with quantity 3, got %s/%d", first.ID, merged.ID, merged.Quantity)
	}

	items, err := env.orders.Items(ctx, order.ID)
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected plain and configured positions, got %d", len(items))
	}
	sheet, err := env.orders.ItemPricing(ctx, merged.ID)
	if err != nil {
		t.Fatalf("item pricing: %v", err)
	}
	if got := sheet.Total(pricing.TotalOptions{}).Amount; got != 1500 {
		t.Fatalf("expected item total 1500, got %d", got)
	}
}

func TestAddProductItemRejectsZeroQuantity(t *testing.T) {
	env := newTestEnv(t)
	order := env.cart(t, "user-1", 0)

	_, err := env.orders.AddProductItem(context.Background(), AddProductItemCommand{OrderID: order.ID, ProductID: "prod-1"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestUpdateItemQuantityZeroRemovesPosition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.cart(t, "user-1", 2)

	items, _ := env.orders.Items(ctx, order.ID)
	updated, err := env.orders.UpdateItemQuantity(ctx, UpdateItemQuantityCommand{OrderID: order.ID, PositionID: items[0].ID})
	if err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	items, _ = env.orders.Items(ctx, order.ID)
	if len(items) != 0 {
		t.Fatalf("expected position to be removed, got %d", len(items))
	}
	if total := pricing.NewSheet(updated.Currency, updated.Calculation).Total(pricing.TotalOptions{}).Amount; total != 0 {
		t.Fatalf("expected empty cart total 0, got %d", total)
	}
}

func TestUpdateCalculationIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.cart(t, "user-1", 12)
	if _, err := env.orders.AddDiscount(ctx, AddDiscountCommand{OrderID: order.ID, Code: "save10"}); err != nil {
		t.Fatalf("add discount: %v", err)
	}

	first, err := env.orders.UpdateCalculation(ctx, order.ID)
	if err != nil {
		t.Fatalf("first recalculation: %v", err)
	}
	firstItems, _ := env.orders.Items(ctx, order.ID)
	firstDiscounts, _ := env.orders.Discounts(ctx, order.ID)

	second, err := env.orders.UpdateCalculation(ctx, order.ID)
	if err != nil {
		t.Fatalf("second recalculation: %v", err)
	}
	secondItems, _ := env.orders.Items(ctx, order.ID)
	secondDiscounts, _ := env.orders.Discounts(ctx, order.ID)

	if !reflect.DeepEqual(first.Calculation, second.Calculation) {
		t.Fatalf("order calculation changed:\n%#v\n%#v", first.Calculation, second.Calculation)
	}
	if !reflect.DeepEqual(firstItems[0].Calculation, secondItems[0].Calculation) {
		t.Fatalf("item calculation changed")
	}
	if len(firstDiscounts) != 2 || len(secondDiscounts) != 2 {
		t.Fatalf("expected coupon and threshold discounts, got %d then %d", len(firstDiscounts), len(secondDiscounts))
	}

	var system int
	for _, discount := range secondDiscounts {
		if discount.Trigger == domain.DiscountTriggerSystem {
			system++
		}
	}
	if system != 1 {
		t.Fatalf("expected exactly one system discount, got %d", system)
	}
	if prices := pricing.NewSheet(second.Currency, second.Calculation).DiscountPrices(); len(prices) != 2 {
		t.Fatalf("expected both discounts to be priced, got %#v", prices)
	}
}

func TestThresholdDiscountFollowsCartValue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.cart(t, "user-1", 12)

	attached, _ := env.orders.Discounts(ctx, order.ID)
	if len(attached) != 1 || attached[0].DiscountKey != "threshold" {
		t.Fatalf("expected threshold discount, got %#v", attached)
	}

	items, _ := env.orders.Items(ctx, order.ID)
	if _, err := env.orders.UpdateItemQuantity(ctx, UpdateItemQuantityCommand{OrderID: order.ID, PositionID: items[0].ID, Quantity: 1}); err != nil {
		t.Fatalf("update quantity: %v", err)
	}
	attached, _ = env.orders.Discounts(ctx, order.ID)
	if len(attached) != 0 {
		t.Fatalf("expected threshold discount to be removed, got %#v", attached)
	}
	sheet, _ := env.orders.Pricing(ctx, order.ID)
	if got := sheet.Total(pricing.TotalOptions{}).Amount; got != 500 {
		t.Fatalf("expected undiscounted total 500, got %d", got)
	}
}

func TestCheckoutMovesCartToPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.cart(t, "user-1", 2)
	env.checkoutReady(t, order.ID)

	checkedOut, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID, ActorID: "user-1"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if checkedOut.Status != domain.OrderStatusPending {
		t.Fatalf("expected PENDING, got %s", checkedOut.Status)
	}
	if checkedOut.OrderNumber != "HC-2025-000001" {
		t.Fatalf("unexpected order number %q", checkedOut.OrderNumber)
	}
	if checkedOut.Ordered == nil || checkedOut.Confirmed != nil {
		t.Fatalf("expected only the ordered timestamp, got %v/%v", checkedOut.Ordered, checkedOut.Confirmed)
	}
	if len(env.card.charges) != 1 {
		t.Fatalf("expected exactly one charge, got %d", len(env.card.charges))
	}
	if env.card.charges[0].Amount != 1000 || env.card.charges[0].Currency != "JPY" {
		t.Fatalf("unexpected charge %d %s", env.card.charges[0].Amount, env.card.charges[0].Currency)
	}
	if len(env.queue.jobs) != 1 || env.queue.jobs[0].Input["template"] != templateOrderConfirmation || env.queue.jobs[0].Retries != defaultConfirmationRetries {
		t.Fatalf("expected confirmation job, got %#v", env.queue.jobs)
	}
	if !reflect.DeepEqual(env.documents.statuses, []OrderStatus{domain.OrderStatusPending}) {
		t.Fatalf("expected pending documents, got %v", env.documents.statuses)
	}

	next, err := env.orders.CreateOrder(ctx, CreateOrderCommand{UserID: "user-1", Country: "JP"})
	if err != nil {
		t.Fatalf("create follow-up cart: %v", err)
	}
	if next.ID == order.ID || next.Status != domain.OrderStatusOpen {
		t.Fatalf("expected a fresh cart, got %s (%s)", next.ID, next.Status)
	}
	if next.BillingAddress == nil || next.BillingAddress.City != "Tokyo" {
		t.Fatalf("expected billing address to be carried over, got %#v", next.BillingAddress)
	}

	other := env.cart(t, "user-2", 1)
	env.checkoutReady(t, other.ID)
	second, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: other.ID})
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if second.OrderNumber == checkedOut.OrderNumber {
		t.Fatalf("order numbers must be unique, both %q", second.OrderNumber)
	}
}

func TestCheckoutAggregatesValidationIssues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.cart(t, "user-1", 0)

	_, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID})
	var validation *CheckoutValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !errors.Is(err, ErrOrderValidation) {
		t.Fatalf("expected validation error to wrap ErrOrderValidation")
	}
	for _, code := range []string{IssueNoItems, IssueBillingAddressMissing, IssueContactMissing} {
		if !validation.HasCode(code) {
			t.Fatalf("expected issue %s in %v", code, validation.Issues)
		}
	}
	if validation.HasCode(IssuePaymentProviderMissing) {
		t.Fatalf("payment provider was selected by default")
	}

	stored, _ := env.orders.GetOrder(ctx, order.ID)
	if stored.Status != domain.OrderStatusOpen || stored.OrderNumber != "" {
		t.Fatalf("expected untouched cart, got %s %q", stored.Status, stored.OrderNumber)
	}
	if len(env.card.charges) != 0 {
		t.Fatalf("expected no charge")
	}
}

func TestCheckoutReportsInactiveProduct(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.cart(t, "user-1", 1)
	env.checkoutReady(t, order.ID)

	product := stampProduct("prod-1", 500)
	product.Status = domain.ProductStatusDraft
	env.saveProduct(t, product)

	_, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID})
	var validation *CheckoutValidationError
	if !errors.As(err, &validation) || !validation.HasCode(IssueItemNotValid) {
		t.Fatalf("expected item issue, got %v", err)
	}
	if validation.Issues[0].PositionID == "" {
		t.Fatalf("expected item issue to carry the position id")
	}
}

func TestCheckoutFailsWhenChargeFails(t *testing.T) {
	card := &stubPaymentProvider{key: "card", chargeFn: func(req payments.ChargeRequest) (payments.ChargeResult, error) {
		return payments.ChargeResult{}, errors.New("card declined")
	}}
	env := newTestEnv(t, withCard(card))
	ctx := context.Background()
	order := env.cart(t, "user-1", 1)
	env.checkoutReady(t, order.ID)

	_, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID})
	if !errors.Is(err, ErrProviderFailed) {
		t.Fatalf("expected provider failure, got %v", err)
	}
	stored, _ := env.orders.GetOrder(ctx, order.ID)
	if stored.Status != domain.OrderStatusOpen || stored.OrderNumber != "" {
		t.Fatalf("expected cart to stay open without number, got %s %q", stored.Status, stored.OrderNumber)
	}
	if len(env.queue.jobs) != 0 {
		t.Fatalf("expected no confirmation job")
	}
}

func TestCheckoutSettledPaymentFulfillsInOnePass(t *testing.T) {
	env := newTestEnv(t,
		withSettings(CheckoutSettings{AutoConfirm: true, AutoFulfill: true}),
		withCard(&stubPaymentProvider{key: "card", settle: true}),
		withCourier(&stubDeliveryProvider{key: "courier", autoRelease: true, delivered: true}),
	)
	ctx := context.Background()
	order := env.cart(t, "user-1", 2)
	env.checkoutReady(t, order.ID)

	done, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if done.Status != domain.OrderStatusFulfilled {
		t.Fatalf("expected FULFILLED, got %s", done.Status)
	}
	if done.Ordered == nil || done.Confirmed == nil || done.Fulfilled == nil {
		t.Fatalf("expected every timestamp to be set")
	}
	if len(done.Log) != 3 {
		t.Fatalf("expected one log entry per status, got %#v", done.Log)
	}
	if len(env.courier.sent) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(env.courier.sent))
	}
	want := []OrderStatus{domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusFulfilled}
	if !reflect.DeepEqual(env.documents.statuses, want) {
		t.Fatalf("expected documents for %v, got %v", want, env.documents.statuses)
	}

	payment, _ := env.orders.Payment(ctx, order.ID)
	if payment.Status != domain.PaymentStatusPaid || payment.TransactionID != "txn_1" {
		t.Fatalf("expected paid payment with transaction, got %s %q", payment.Status, payment.TransactionID)
	}
}

func TestAutoFulfillmentWaitsForPayment(t *testing.T) {
	env := newTestEnv(t, withSettings(CheckoutSettings{AutoConfirm: true, AutoFulfill: true}))
	ctx := context.Background()
	order := env.cart(t, "user-1", 1)
	env.checkoutReady(t, order.ID)

	pending, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if pending.Status != domain.OrderStatusPending {
		t.Fatalf("unpaid card order must wait in PENDING, got %s", pending.Status)
	}

	confirmed, err := env.orders.Confirm(ctx, CheckoutCommand{OrderID: order.ID, ActorID: "staff-1"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed || !confirmed.ConfirmedManually {
		t.Fatalf("expected manual confirmation, got %s manual=%v", confirmed.Status, confirmed.ConfirmedManually)
	}

	if _, err := env.deliveries.MarkDelivered(ctx, DeliveryStatusCommand{DeliveryID: order.DeliveryID}); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	stillConfirmed, err := env.orders.ProcessOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("process order: %v", err)
	}
	if stillConfirmed.Status != domain.OrderStatusConfirmed {
		t.Fatalf("order with open payment must not fulfill, got %s", stillConfirmed.Status)
	}

	if _, err := env.payments.MarkPaid(ctx, PaymentStatusCommand{PaymentID: order.PaymentID, TransactionID: "pi_1"}); err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	fulfilled, err := env.orders.ProcessOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("process order: %v", err)
	}
	if fulfilled.Status != domain.OrderStatusFulfilled {
		t.Fatalf("expected FULFILLED, got %s", fulfilled.Status)
	}
}

func TestConfirmRequiresPendingOrder(t *testing.T) {
	env := newTestEnv(t)
	order := env.cart(t, "user-1", 1)

	_, err := env.orders.Confirm(context.Background(), CheckoutCommand{OrderID: order.ID})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestManualConfirmationIsNotRevisited(t *testing.T) {
	env := newTestEnv(t, withCourier(&stubDeliveryProvider{key: "courier"}))
	ctx := context.Background()
	order := env.cart(t, "user-1", 1)
	env.checkoutReady(t, order.ID)
	if _, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if _, err := env.orders.Confirm(ctx, CheckoutCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	next, err := env.orders.NextStatus(ctx, order.ID)
	if err != nil {
		t.Fatalf("next status: %v", err)
	}
	if next != domain.OrderStatusConfirmed {
		t.Fatalf("expected manual confirmation to hold, got %s", next)
	}
}

func TestStatusNeverMovesBackwards(t *testing.T) {
	env := newTestEnv(t, withSettings(CheckoutSettings{AutoConfirm: true}), withCard(&stubPaymentProvider{key: "card", settle: true}))
	ctx := context.Background()
	order := env.cart(t, "user-1", 1)
	env.checkoutReady(t, order.ID)

	confirmed, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if confirmed.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", confirmed.Status)
	}

	svc := env.orders.(*orderService)
	same, err := svc.setStatus(ctx, confirmed, domain.OrderStatusPending, "rewind")
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if same.Status != domain.OrderStatusConfirmed || len(same.Log) != len(confirmed.Log) {
		t.Fatalf("expected backwards transition to be ignored, got %s", same.Status)
	}

	for i := 0; i < 3; i++ {
		again, err := env.orders.ProcessOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("process order: %v", err)
		}
		if again.Status != domain.OrderStatusConfirmed || again.OrderNumber != confirmed.OrderNumber {
			t.Fatalf("unexpected status %s / number %q", again.Status, again.OrderNumber)
		}
	}
	if len(env.card.charges) != 1 {
		t.Fatalf("expected a single charge, got %d", len(env.card.charges))
	}
	if len(env.courier.sent) != 1 {
		t.Fatalf("expected a single dispatch, got %d", len(env.courier.sent))
	}
}

func TestConfirmationReservesStockAndSpawnsSubscriptions(t *testing.T) {
	env := newTestEnv(t, withSettings(CheckoutSettings{AutoConfirm: true}), withCard(&stubPaymentProvider{key: "card", settle: true}))
	ctx := context.Background()

	tracked := stampProduct("ink", 800)
	tracked.Tracked = true
	env.saveProduct(t, tracked)
	plan := stampProduct("refill", 300)
	plan.SubscriptionPlan = &domain.SubscriptionPlan{Interval: domain.SubscriptionIntervalMonth, IntervalCount: 1}
	env.saveProduct(t, plan)
	if err := env.store.Stock().Set(ctx, domain.StockLevel{SKU: "INK", OnHand: 5}); err != nil {
		t.Fatalf("set stock: %v", err)
	}

	order := env.cart(t, "user-1", 0)
	for _, cmd := range []AddProductItemCommand{
		{OrderID: order.ID, ProductID: "ink", Quantity: 2},
		{OrderID: order.ID, ProductID: "refill", Quantity: 1},
	} {
		if _, err := env.orders.AddProductItem(ctx, cmd); err != nil {
			t.Fatalf("add item: %v", err)
		}
	}
	env.checkoutReady(t, order.ID)

	if _, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	level, err := env.store.Stock().Get(ctx, "INK")
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	if level.Available() != 3 {
		t.Fatalf("expected 3 units left, got %d", level.Available())
	}
	items, _ := env.orders.Items(ctx, order.ID)
	if len(items[0].Scheduling) != 1 || !items[0].Scheduling[0].Reserved {
		t.Fatalf("expected ink position to be reserved, got %#v", items[0].Scheduling)
	}
	if len(env.subscriptions.items) != 1 || env.subscriptions.items[0].Product.ID != "refill" {
		t.Fatalf("expected one subscription item, got %#v", env.subscriptions.items)
	}
}

func TestCheckoutRejectsInsufficientStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tracked := stampProduct("ink", 800)
	tracked.Tracked = true
	env.saveProduct(t, tracked)
	if err := env.store.Stock().Set(ctx, domain.StockLevel{SKU: "INK", OnHand: 1}); err != nil {
		t.Fatalf("set stock: %v", err)
	}
	order := env.cart(t, "user-1", 0)
	if _, err := env.orders.AddProductItem(ctx, AddProductItemCommand{OrderID: order.ID, ProductID: "ink", Quantity: 2}); err != nil {
		t.Fatalf("add item: %v", err)
	}
	env.checkoutReady(t, order.ID)

	_, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID})
	var validation *CheckoutValidationError
	if !errors.As(err, &validation) || !validation.HasCode(IssueItemNotValid) {
		t.Fatalf("expected stock issue, got %v", err)
	}
}

func TestCheckoutFulfillsQuotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.saveProduct(t, stampProduct("custom", 9000))
	quotation := domain.Quotation{
		ID:        "quo-1",
		UserID:    "user-1",
		ProductID: "custom",
		Status:    domain.QuotationStatusProposed,
		Amount:    7000,
		Currency:  "JPY",
	}
	if err := env.store.Quotations().Save(ctx, quotation); err != nil {
		t.Fatalf("save quotation: %v", err)
	}
	order := env.cart(t, "user-1", 0)
	position, err := env.orders.AddQuotationItem(ctx, AddQuotationItemCommand{OrderID: order.ID, QuotationID: "quo-1"})
	if err != nil {
		t.Fatalf("add quotation item: %v", err)
	}
	if got := pricing.NewSheet("JPY", position.Calculation).Total(pricing.TotalOptions{}).Amount; got != 7000 {
		t.Fatalf("expected quoted price 7000, got %d", got)
	}
	env.checkoutReady(t, order.ID)

	if _, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	stored, _ := env.store.Quotations().FindByID(ctx, "quo-1")
	if stored.Status != domain.QuotationStatusFulfilled {
		t.Fatalf("expected quotation to be fulfilled, got %s", stored.Status)
	}
}

func TestSetPaymentProviderRejectsUnknownProvider(t *testing.T) {
	env := newTestEnv(t)
	order := env.cart(t, "user-1", 1)

	_, err := env.orders.SetPaymentProvider(context.Background(), SelectProviderCommand{OrderID: order.ID, ProviderID: "bitcoin"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCartMutationsRejectedAfterCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.cart(t, "user-1", 1)
	env.checkoutReady(t, order.ID)
	pending, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if _, err := env.orders.AddProductItem(ctx, AddProductItemCommand{OrderID: order.ID, ProductID: "prod-1", Quantity: 1}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	frozen, err := env.orders.UpdateCalculation(ctx, order.ID)
	if err != nil {
		t.Fatalf("update calculation: %v", err)
	}
	if !reflect.DeepEqual(frozen.Calculation, pending.Calculation) {
		t.Fatalf("calculation of a checked out order must be frozen")
	}
}

func TestDocumentFailureDoesNotFailTransition(t *testing.T) {
	env := newTestEnv(t)
	env.documents.err = errors.New("bucket unavailable")
	ctx := context.Background()
	order := env.cart(t, "user-1", 1)
	env.checkoutReady(t, order.ID)

	pending, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if pending.Status != domain.OrderStatusPending {
		t.Fatalf("expected PENDING, got %s", pending.Status)
	}
	if !env.loggedEvent("document.generate.failed") {
		t.Fatalf("expected document failure to be logged, got %v", env.events)
	}
}
