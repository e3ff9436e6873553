package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing/rules"
)

const (
	// ShippingKey identifies parcel shipping through the warehouse.
	ShippingKey = "shipping"
	// PickupKey identifies in-store pickup.
	PickupKey = "pickup"
)

// ShippingProvider dispatches parcels by publishing a message to the warehouse.
type ShippingProvider struct {
	dispatcher  Dispatcher
	autoRelease bool
	countries   map[string]struct{}
	fee         rules.Fee
	clock       func() time.Time
}

// ShippingConfig configures the ShippingProvider.
type ShippingConfig struct {
	Dispatcher Dispatcher
	// ManualRelease requires staff to confirm orders before they ship.
	ManualRelease bool
	// Countries restricts shipping destinations; empty allows every country.
	Countries []string
	Fee       rules.Fee
	Clock     func() time.Time
}

// NewShippingProvider validates the configuration.
func NewShippingProvider(cfg ShippingConfig) (*ShippingProvider, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("delivery: shipping dispatcher is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	countries := make(map[string]struct{}, len(cfg.Countries))
	for _, c := range cfg.Countries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			countries[c] = struct{}{}
		}
	}
	return &ShippingProvider{
		dispatcher:  cfg.Dispatcher,
		autoRelease: !cfg.ManualRelease,
		countries:   countries,
		fee:         cfg.Fee,
		clock:       func() time.Time { return clock().UTC() },
	}, nil
}

func (p *ShippingProvider) Key() string { return ShippingKey }

func (p *ShippingProvider) IsActive(_ context.Context, order domain.Order) bool {
	if len(p.countries) == 0 {
		return true
	}
	_, ok := p.countries[strings.ToUpper(order.Country)]
	return ok
}

func (p *ShippingProvider) IsAutoReleaseAllowed(context.Context, domain.Order, domain.OrderDelivery) bool {
	return p.autoRelease
}

// Send publishes the dispatch message. Parcels are never delivered synchronously.
func (p *ShippingProvider) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	address := shippingAddress(req)
	if address == nil {
		return SendResult{}, errors.New("delivery: shipping address is required")
	}
	id, err := p.dispatcher.Dispatch(ctx, DispatchMessage{
		OrderID:     req.Order.ID,
		OrderNumber: req.Order.OrderNumber,
		DeliveryID:  req.Delivery.ID,
		Provider:    ShippingKey,
		Address:     address,
		Items:       dispatchItems(req.Positions),
		Context:     req.Delivery.Context,
		RequestedAt: p.clock(),
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("delivery: dispatch: %w", err)
	}
	return SendResult{Info: map[string]any{"dispatchMessageId": id}}, nil
}

func (p *ShippingProvider) DefaultContext() map[string]any {
	return map[string]any{"note": ""}
}

func (p *ShippingProvider) TransformContext(_ context.Context, key string, value any) (any, error) {
	if key == "address" {
		if _, ok := value.(map[string]any); !ok && value != nil {
			return nil, fmt.Errorf("delivery: address must be an object")
		}
	}
	return value, nil
}

func (p *ShippingProvider) Fee(context.Context, domain.Order) (rules.Fee, error) {
	return p.fee, nil
}

// shippingAddress prefers an explicit address in the delivery context over the billing address.
func shippingAddress(req SendRequest) *domain.Address {
	if raw, ok := req.Delivery.Context["address"].(map[string]any); ok {
		str := func(key string) string {
			s, _ := raw[key].(string)
			return strings.TrimSpace(s)
		}
		addr := &domain.Address{
			Recipient:  str("recipient"),
			Line1:      str("line1"),
			City:       str("city"),
			PostalCode: str("postalCode"),
			Country:    strings.ToUpper(str("country")),
		}
		if addr.Line1 != "" && addr.Country != "" {
			return addr
		}
	}
	return req.Order.BillingAddress
}

// PickupProvider hands goods over at a store counter.
type PickupProvider struct {
	Stores []string
}

func (p PickupProvider) Key() string { return PickupKey }

func (p PickupProvider) IsActive(context.Context, domain.Order) bool {
	return len(p.Stores) > 0
}

func (p PickupProvider) IsAutoReleaseAllowed(context.Context, domain.Order, domain.OrderDelivery) bool {
	return true
}

func (p PickupProvider) Send(context.Context, SendRequest) (SendResult, error) {
	return SendResult{}, nil
}

func (p PickupProvider) DefaultContext() map[string]any {
	store := ""
	if len(p.Stores) > 0 {
		store = p.Stores[0]
	}
	return map[string]any{"storeId": store}
}

func (p PickupProvider) TransformContext(_ context.Context, key string, value any) (any, error) {
	if key != "storeId" {
		return value, nil
	}
	id, _ := value.(string)
	for _, store := range p.Stores {
		if store == id {
			return id, nil
		}
	}
	return nil, fmt.Errorf("delivery: unknown pickup store %q", id)
}

func (p PickupProvider) Fee(context.Context, domain.Order) (rules.Fee, error) {
	return rules.Fee{}, nil
}
