package di

import (
	"context"
	"testing"
	"time"

	"github.com/hanko-field/commerce/internal/delivery"
	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/platform/config"
	"github.com/hanko-field/commerce/internal/repositories/memory"
	"github.com/hanko-field/commerce/internal/services"
)

type recordingDispatcher struct {
	messages []delivery.DispatchMessage
}

func (d *recordingDispatcher) Dispatch(_ context.Context, message delivery.DispatchMessage) (string, error) {
	d.messages = append(d.messages, message)
	return "msg-1", nil
}

func testConfig() config.Config {
	return config.Config{
		PSP:      config.PSPConfig{DefaultProvider: payments.StripeKey},
		Delivery: config.DeliveryConfig{ShippingFee: 500},
		Checkout: config.CheckoutConfig{OrderNumberPrefix: "T", DefaultCountry: "JP"},
	}
}

func TestNewContainerRequiresDispatcher(t *testing.T) {
	if _, err := NewContainer(context.Background(), testConfig(), memory.NewStore(), Infrastructure{}); err == nil {
		t.Fatalf("expected error without dispatcher")
	}
	if _, err := NewContainer(context.Background(), testConfig(), nil, Infrastructure{Dispatcher: &recordingDispatcher{}}); err == nil {
		t.Fatalf("expected error without registry")
	}
}

func TestNewContainerWiresInvoiceWithoutStripeKey(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	container, err := NewContainer(context.Background(), testConfig(), memory.NewStore(), Infrastructure{
		Dispatcher: &recordingDispatcher{},
		Clock:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer container.Close(context.Background())

	svc := container.Services
	if svc.Orders == nil || svc.Discounts == nil || svc.Payments == nil || svc.Deliveries == nil || svc.Profiles == nil {
		t.Fatalf("expected every service, got %+v", svc)
	}

	order, err := svc.Orders.CreateOrder(context.Background(), services.CreateOrderCommand{UserID: "user-1"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.Country != "JP" || order.Currency != "JPY" {
		t.Fatalf("expected JP/JPY cart, got %s/%s", order.Country, order.Currency)
	}

	paymentKeys, err := svc.Orders.SupportedPaymentProviders(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("payment providers: %v", err)
	}
	if len(paymentKeys) != 1 || paymentKeys[0] != payments.InvoiceKey {
		t.Fatalf("expected invoice only, got %v", paymentKeys)
	}
	deliveryKeys, err := svc.Orders.SupportedDeliveryProviders(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("delivery providers: %v", err)
	}
	if len(deliveryKeys) != 1 || deliveryKeys[0] != delivery.ShippingKey {
		t.Fatalf("expected shipping only, got %v", deliveryKeys)
	}
}
