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

// ErrUnsupportedProvider is returned when the registry cannot locate a provider.
var ErrUnsupportedProvider = errors.New("delivery: unsupported provider")

// SendRequest is the order snapshot handed to a provider on dispatch.
type SendRequest struct {
	Order     domain.Order
	Delivery  domain.OrderDelivery
	Positions []domain.OrderPosition
}

// SendResult reports whether the goods already reached the customer.
type SendResult struct {
	Delivered  bool
	TrackingID string
	Info       map[string]any
}

// Provider is a delivery method offered at checkout.
type Provider interface {
	Key() string
	IsActive(ctx context.Context, order domain.Order) bool
	// IsAutoReleaseAllowed lets an order confirm without staff approval of the shipment.
	IsAutoReleaseAllowed(ctx context.Context, order domain.Order, delivery domain.OrderDelivery) bool
	Send(ctx context.Context, req SendRequest) (SendResult, error)
	DefaultContext() map[string]any
	TransformContext(ctx context.Context, key string, value any) (any, error)
	Fee(ctx context.Context, order domain.Order) (rules.Fee, error)
}

// DispatchItem is one line of a warehouse dispatch message.
type DispatchItem struct {
	PositionID string `json:"positionId"`
	ProductID  string `json:"productId"`
	Quantity   int    `json:"quantity"`
}

// DispatchMessage instructs the warehouse to ship an order.
type DispatchMessage struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	DeliveryID  string          `json:"deliveryId"`
	Provider    string          `json:"provider"`
	Address     *domain.Address `json:"address,omitempty"`
	Items       []DispatchItem  `json:"items"`
	Context     map[string]any  `json:"context,omitempty"`
	RequestedAt time.Time       `json:"requestedAt"`
}

// Dispatcher hands dispatch messages to the warehouse.
type Dispatcher interface {
	Dispatch(ctx context.Context, message DispatchMessage) (string, error)
}

// Registry holds the delivery providers in registration order.
type Registry struct {
	providers []Provider
	byKey     map[string]Provider
}

// NewRegistry registers providers, rejecting empty and duplicate keys.
func NewRegistry(providers ...Provider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, errors.New("delivery: at least one provider is required")
	}
	r := &Registry{byKey: make(map[string]Provider, len(providers))}
	for _, provider := range providers {
		if provider == nil {
			return nil, errors.New("delivery: nil provider registration")
		}
		key := strings.ToLower(strings.TrimSpace(provider.Key()))
		if key == "" {
			return nil, errors.New("delivery: provider key is required")
		}
		if _, dup := r.byKey[key]; dup {
			return nil, fmt.Errorf("delivery: provider %q registered twice", key)
		}
		r.byKey[key] = provider
		r.providers = append(r.providers, provider)
	}
	return r, nil
}

// Provider looks up a provider by key.
func (r *Registry) Provider(key string) (Provider, error) {
	if provider, ok := r.byKey[strings.ToLower(strings.TrimSpace(key))]; ok {
		return provider, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, key)
}

// Supported lists the providers active for the order, in registration order.
func (r *Registry) Supported(ctx context.Context, order domain.Order) []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, provider := range r.providers {
		if provider.IsActive(ctx, order) {
			out = append(out, provider)
		}
	}
	return out
}

func dispatchItems(positions []domain.OrderPosition) []DispatchItem {
	items := make([]DispatchItem, 0, len(positions))
	for _, position := range positions {
		if position.Quantity <= 0 {
			continue
		}
		items = append(items, DispatchItem{
			PositionID: position.ID,
			ProductID:  position.ProductID,
			Quantity:   position.Quantity,
		})
	}
	return items
}
