package discounts

import (
	"context"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing"
)

// Context is what a discount adapter evaluates against. Discount is nil while a code is being
// resolved and set once the order discount record exists.
type Context struct {
	Order    domain.Order
	Discount *domain.OrderDiscount
	Code     string
	// Pricing is the order sheet of the last calculation pass.
	Pricing pricing.Sheet
}

// Adapter decides whether a discount applies and manages its external reservations.
type Adapter interface {
	Key() string
	IsManualAdditionAllowed(ctx context.Context, code string) (bool, error)
	IsValidForCodeTriggering(ctx context.Context, dc Context) (bool, error)
	IsValidForSystemTriggering(ctx context.Context, dc Context) (bool, error)
	// IsValid re-checks an attached discount on every recalculation.
	IsValid(ctx context.Context, dc Context) (bool, error)
	// Reserve claims external resources and returns an opaque reservation payload.
	Reserve(ctx context.Context, dc Context) (map[string]any, error)
	Release(ctx context.Context, dc Context) error
	// DiscountForPricingAdapterKey returns nil when the pricing adapter should ignore the discount.
	DiscountForPricingAdapterKey(ctx context.Context, dc Context, pricingAdapterKey string) *pricing.DiscountConfiguration
}
