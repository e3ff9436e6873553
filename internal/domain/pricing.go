package domain

import "github.com/shopspring/decimal"

// PricingCategory tags a calculation row.
type PricingCategory string

const (
	// Item level rows.
	PricingCategoryItem     PricingCategory = "ITEM"
	PricingCategoryTax      PricingCategory = "TAX"
	PricingCategoryDiscount PricingCategory = "DISCOUNT"

	// Delivery and payment level rows.
	PricingCategoryDelivery PricingCategory = "DELIVERY"
	PricingCategoryPayment  PricingCategory = "PAYMENT"

	// Order level rows.
	PricingCategoryItems     PricingCategory = "ITEMS"
	PricingCategoryDiscounts PricingCategory = "DISCOUNTS"
	PricingCategoryTaxes     PricingCategory = "TAXES"
)

// IsTax reports whether rows of this category count towards the tax sum.
func (c PricingCategory) IsTax() bool {
	return c == PricingCategoryTax || c == PricingCategoryTaxes
}

// IsDiscount reports whether rows of this category are discount reductions.
func (c PricingCategory) IsDiscount() bool {
	return c == PricingCategoryDiscount || c == PricingCategoryDiscounts
}

// PricingCalculation is one row contributed by a pricing adapter. Amount is expressed in
// minor currency units and may carry fractions until a total is rounded.
type PricingCalculation struct {
	Category   PricingCategory
	Amount     decimal.Decimal
	Currency   string
	DiscountID string
	TaxID      string
	AdapterKey string
	Meta       map[string]any
}
