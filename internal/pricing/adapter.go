package pricing

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Adapter is a single pricing rule for contexts of type C.
type Adapter[C any] interface {
	// Key identifies the rule. Discount adapters use it to decide whether they apply.
	Key() string
	// OrderIndex positions the rule in the chain; lower runs first.
	OrderIndex() int
	IsActivatedFor(c C) bool
	Calculate(ctx context.Context, params Params[C]) ([]domain.PricingCalculation, error)
}

// Params is what an adapter receives on each pass.
type Params[C any] struct {
	Context   C
	Currency  string
	Sheet     Sheet
	Discounts []Discount
}

// Row builds a calculation row stamped with the pass currency.
func (p Params[C]) Row(category domain.PricingCategory, amount decimal.Decimal) domain.PricingCalculation {
	return domain.PricingCalculation{
		Category: category,
		Amount:   amount,
		Currency: p.Currency,
	}
}

// DiscountConfiguration is what a discount adapter hands to a pricing adapter.
// Either Rate (0..1) or FixedAmount (minor units) is set.
type DiscountConfiguration struct {
	Rate        decimal.Decimal
	FixedAmount int64
	IsNetPrice  bool
	Meta        map[string]any
}

// IsRate reports whether the configuration is a relative reduction.
func (c DiscountConfiguration) IsRate() bool {
	return c.Rate.IsPositive()
}

// Discount is an order discount applicable to a pricing adapter.
type Discount struct {
	ID            string
	DiscountKey   string
	Configuration DiscountConfiguration
}

// DiscountResolver yields the discounts applicable to a pricing adapter key.
type DiscountResolver interface {
	DiscountsFor(ctx context.Context, pricingAdapterKey string) []Discount
}

// NoDiscounts resolves nothing.
type NoDiscounts struct{}

// DiscountsFor implements DiscountResolver.
func (NoDiscounts) DiscountsFor(context.Context, string) []Discount {
	return nil
}
