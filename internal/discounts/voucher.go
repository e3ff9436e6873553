package discounts

import (
	"context"

	"github.com/hanko-field/commerce/internal/pricing"
	"github.com/hanko-field/commerce/internal/pricing/rules"
)

// VoucherKey identifies single-use vouchers issued by staff.
const VoucherKey = "voucher"

// VoucherAdapter backs pre-issued single-use codes. The codes live as unbound order discount
// records, so the adapter never resolves a static code itself.
type VoucherAdapter struct {
	// Amounts maps currency to the fixed value of a voucher in minor units.
	Amounts map[string]int64
}

func (a VoucherAdapter) Key() string { return VoucherKey }

func (a VoucherAdapter) IsManualAdditionAllowed(context.Context, string) (bool, error) {
	return false, nil
}

func (a VoucherAdapter) IsValidForCodeTriggering(context.Context, Context) (bool, error) {
	return false, nil
}

func (a VoucherAdapter) IsValidForSystemTriggering(context.Context, Context) (bool, error) {
	return false, nil
}

func (a VoucherAdapter) IsValid(_ context.Context, dc Context) (bool, error) {
	return a.Amounts[dc.Order.Currency] > 0, nil
}

func (a VoucherAdapter) Reserve(_ context.Context, dc Context) (map[string]any, error) {
	return map[string]any{"orderId": dc.Order.ID}, nil
}

func (a VoucherAdapter) Release(context.Context, Context) error {
	return nil
}

func (a VoucherAdapter) DiscountForPricingAdapterKey(_ context.Context, dc Context, pricingAdapterKey string) *pricing.DiscountConfiguration {
	amount := a.Amounts[dc.Order.Currency]
	if pricingAdapterKey != rules.KeyOrderDiscount || amount <= 0 {
		return nil
	}
	return &pricing.DiscountConfiguration{FixedAmount: amount}
}
