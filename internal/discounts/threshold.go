package discounts

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing"
	"github.com/hanko-field/commerce/internal/pricing/rules"
)

// ThresholdKey identifies the automatic order value discount.
const ThresholdKey = "threshold"

// ThresholdAdapter grants a relative discount once the net item value of the order reaches a
// per-currency threshold. It is never redeemable by code.
type ThresholdAdapter struct {
	Thresholds map[string]int64
	Rate       decimal.Decimal
}

func (a ThresholdAdapter) Key() string { return ThresholdKey }

func (a ThresholdAdapter) IsManualAdditionAllowed(context.Context, string) (bool, error) {
	return false, nil
}

func (a ThresholdAdapter) IsValidForCodeTriggering(context.Context, Context) (bool, error) {
	return false, nil
}

func (a ThresholdAdapter) IsValidForSystemTriggering(_ context.Context, dc Context) (bool, error) {
	if !a.Rate.IsPositive() {
		return false, nil
	}
	threshold, ok := a.Thresholds[dc.Order.Currency]
	if !ok || threshold <= 0 {
		return false, nil
	}
	items := dc.Pricing.Sum(pricing.Filter{Category: domain.PricingCategoryItems})
	return items.GreaterThanOrEqual(decimal.NewFromInt(threshold)), nil
}

func (a ThresholdAdapter) IsValid(ctx context.Context, dc Context) (bool, error) {
	return a.IsValidForSystemTriggering(ctx, dc)
}

func (a ThresholdAdapter) Reserve(context.Context, Context) (map[string]any, error) {
	return nil, nil
}

func (a ThresholdAdapter) Release(context.Context, Context) error {
	return nil
}

func (a ThresholdAdapter) DiscountForPricingAdapterKey(_ context.Context, _ Context, pricingAdapterKey string) *pricing.DiscountConfiguration {
	if pricingAdapterKey != rules.KeyItemDiscount {
		return nil
	}
	return &pricing.DiscountConfiguration{Rate: a.Rate}
}
