package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing/rules"
)

// ErrUnsupportedProvider is returned when the registry cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrNotSupported is returned by providers for operations they do not implement.
var ErrNotSupported = errors.New("payments: operation not supported")

// ChargeRequest carries the order snapshot a provider charges against.
type ChargeRequest struct {
	Order          domain.Order
	Payment        domain.OrderPayment
	Amount         int64
	Currency       string
	IdempotencyKey string
}

// ChargeResult reports the outcome of a charge attempt. Pending means the payment cannot be
// charged yet, which is not an error.
type ChargeResult struct {
	TransactionID string
	Settled       bool
	Pending       bool
	Info          map[string]any
}

// Provider is a payment method offered at checkout.
type Provider interface {
	Key() string
	IsActive(ctx context.Context, order domain.Order) bool
	// IsPayLaterAllowed lets an order confirm before the payment is settled.
	IsPayLaterAllowed(ctx context.Context, order domain.Order, payment domain.OrderPayment) bool
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	Sign(ctx context.Context, req ChargeRequest) (string, error)
	Cancel(ctx context.Context, req ChargeRequest) error
	DefaultContext() map[string]any
	TransformContext(ctx context.Context, key string, value any) (any, error)
	Fee(ctx context.Context, order domain.Order) (rules.Fee, error)
}

// Registry holds the payment providers in registration order.
type Registry struct {
	providers       []Provider
	byKey           map[string]Provider
	defaultProvider string
}

// RegistryOption configures optional behaviour when building a Registry.
type RegistryOption func(*Registry)

// WithDefaultProvider selects the provider a new cart starts with.
func WithDefaultProvider(provider string) RegistryOption {
	return func(r *Registry) {
		r.defaultProvider = normalizeKey(provider)
	}
}

// NewRegistry registers providers, rejecting empty and duplicate keys.
func NewRegistry(providers []Provider, opts ...RegistryOption) (*Registry, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	r := &Registry{byKey: make(map[string]Provider, len(providers))}
	for _, provider := range providers {
		if provider == nil {
			return nil, errors.New("payments: nil provider registration")
		}
		key := normalizeKey(provider.Key())
		if key == "" {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", provider.Key())
		}
		if _, dup := r.byKey[key]; dup {
			return nil, fmt.Errorf("payments: provider %q registered twice", key)
		}
		r.byKey[key] = provider
		r.providers = append(r.providers, provider)
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.defaultProvider != "" {
		if _, ok := r.byKey[r.defaultProvider]; !ok {
			return nil, fmt.Errorf("%w: default %q", ErrUnsupportedProvider, r.defaultProvider)
		}
	}
	return r, nil
}

// Provider looks up a provider by key.
func (r *Registry) Provider(key string) (Provider, error) {
	if r == nil {
		return nil, errors.New("payments: registry is nil")
	}
	if provider, ok := r.byKey[normalizeKey(key)]; ok {
		return provider, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, key)
}

// Supported lists the providers active for the order, in registration order.
func (r *Registry) Supported(ctx context.Context, order domain.Order) []Provider {
	if r == nil {
		return nil
	}
	out := make([]Provider, 0, len(r.providers))
	for _, provider := range r.providers {
		if provider.IsActive(ctx, order) {
			out = append(out, provider)
		}
	}
	return out
}

// Default resolves the configured default provider, falling back to the first supported one.
func (r *Registry) Default(ctx context.Context, order domain.Order) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	if provider, ok := r.byKey[r.defaultProvider]; ok && provider.IsActive(ctx, order) {
		return provider, true
	}
	supported := r.Supported(ctx, order)
	if len(supported) == 0 {
		return nil, false
	}
	return supported[0], true
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func cloneContext(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func stringValue(ctx map[string]any, key string) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
