package services

import (
	"context"
	"errors"
	"reflect"
	"testing"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/delivery"
	"github.com/hanko-field/commerce/internal/repositories"
)

func TestConfirmedStatusIsStoredBeforeDispatch(t *testing.T) {
	var (
		env      *testEnv
		stored   OrderStatus
		docs     []OrderStatus
		received Order
	)
	courier := &stubDeliveryProvider{key: "courier", autoRelease: true}
	courier.onSend = func(req delivery.SendRequest) {
		order, err := env.orders.GetOrder(context.Background(), req.Order.ID)
		if err != nil {
			t.Errorf("load order during dispatch: %v", err)
			return
		}
		stored = order.Status
		docs = append([]OrderStatus(nil), env.documents.statuses...)
		received = req.Order
	}
	env = newTestEnv(t,
		withSettings(CheckoutSettings{AutoConfirm: true}),
		withCard(&stubPaymentProvider{key: "card", payLater: true}),
		withCourier(courier),
	)
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
	if len(courier.sent) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(courier.sent))
	}
	if stored != domain.OrderStatusConfirmed {
		t.Fatalf("expected CONFIRMED to be stored when the parcel was sent, got %s", stored)
	}
	if received.Status != domain.OrderStatusConfirmed || received.OrderNumber == "" || received.Confirmed == nil {
		t.Fatalf("expected the courier to see the confirmed order, got %s %q", received.Status, received.OrderNumber)
	}
	want := []OrderStatus{domain.OrderStatusPending, domain.OrderStatusConfirmed}
	if !reflect.DeepEqual(docs, want) {
		t.Fatalf("expected documents %v before dispatch, got %v", want, docs)
	}
}

func TestFailedDispatchIsRetriedFromConfirmed(t *testing.T) {
	courier := &stubDeliveryProvider{key: "courier", sendErr: errors.New("carrier offline")}
	env := newTestEnv(t, withCourier(courier))
	ctx := context.Background()
	order := env.cart(t, "user-1", 1)
	env.checkoutReady(t, order.ID)
	if _, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	_, err := env.orders.Confirm(ctx, CheckoutCommand{OrderID: order.ID, OrderContext: map[string]any{"note": "rush"}})
	if !errors.Is(err, ErrProviderFailed) {
		t.Fatalf("expected provider failure, got %v", err)
	}
	stored, _ := env.orders.GetOrder(ctx, order.ID)
	if stored.Status != domain.OrderStatusConfirmed || !stored.ConfirmedManually {
		t.Fatalf("expected confirmation to be stored, got %s manual=%v", stored.Status, stored.ConfirmedManually)
	}
	if stored.Context["note"] != "rush" {
		t.Fatalf("expected order context with the confirmation, got %#v", stored.Context)
	}

	courier.sendErr = nil
	for i := 0; i < 2; i++ {
		again, err := env.orders.ProcessOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("process order: %v", err)
		}
		if again.Status != domain.OrderStatusConfirmed {
			t.Fatalf("expected CONFIRMED, got %s", again.Status)
		}
	}
	if len(courier.sent) != 1 {
		t.Fatalf("expected the dispatch to be retried exactly once, got %d", len(courier.sent))
	}
}

// confirmWriteFailure rejects the write that would store CONFIRMED.
type confirmWriteFailure struct {
	repositories.OrderRepository
}

func (r confirmWriteFailure) Update(ctx context.Context, order domain.Order) error {
	if order.Status == domain.OrderStatusConfirmed {
		return repositories.NewConflict("orders.update", "order %s changed concurrently", order.ID)
	}
	return r.OrderRepository.Update(ctx, order)
}

func TestFailedManualConfirmationLeavesNoOverride(t *testing.T) {
	env := newTestEnv(t,
		withSettings(CheckoutSettings{AutoConfirm: true}),
		withOrderRepository(func(repo repositories.OrderRepository) repositories.OrderRepository {
			return confirmWriteFailure{OrderRepository: repo}
		}),
	)
	ctx := context.Background()
	order := env.cart(t, "user-1", 1)
	env.checkoutReady(t, order.ID)
	if _, err := env.orders.Checkout(ctx, CheckoutCommand{OrderID: order.ID}); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	_, err := env.orders.Confirm(ctx, CheckoutCommand{OrderID: order.ID, OrderContext: map[string]any{"note": "rush"}})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	stored, _ := env.orders.GetOrder(ctx, order.ID)
	if stored.Status != domain.OrderStatusPending || stored.ConfirmedManually {
		t.Fatalf("expected untouched pending order, got %s manual=%v", stored.Status, stored.ConfirmedManually)
	}
	if _, ok := stored.Context["note"]; ok {
		t.Fatalf("expected order context to stay unmerged, got %#v", stored.Context)
	}

	// the unpaid card still blocks automatic confirmation
	next, err := env.orders.NextStatus(ctx, order.ID)
	if err != nil {
		t.Fatalf("next status: %v", err)
	}
	if next != domain.OrderStatusPending {
		t.Fatalf("expected PENDING without the override, got %s", next)
	}
	if len(env.courier.sent) != 0 {
		t.Fatalf("expected no dispatch, got %d", len(env.courier.sent))
	}
}
