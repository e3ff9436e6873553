package rules

import (
	"context"
	"maps"
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing"
)

// OrderItems rolls the position sheets up into ITEMS, DISCOUNTS and TAXES rows.
type OrderItems struct{}

func (OrderItems) Key() string     { return KeyOrderItems }
func (OrderItems) OrderIndex() int { return 0 }

func (OrderItems) IsActivatedFor(c OrderContext) bool {
	return len(c.Items) > 0
}

func (OrderItems) Calculate(_ context.Context, p pricing.Params[OrderContext]) ([]domain.PricingCalculation, error) {
	return rollUp(p, p.Context.Items, domain.PricingCategoryItems), nil
}

// OrderDelivery rolls the delivery sheet up into DELIVERY and TAXES rows.
type OrderDelivery struct{}

func (OrderDelivery) Key() string     { return KeyOrderDelivery }
func (OrderDelivery) OrderIndex() int { return 10 }

func (OrderDelivery) IsActivatedFor(c OrderContext) bool {
	return c.Delivery != nil
}

func (OrderDelivery) Calculate(_ context.Context, p pricing.Params[OrderContext]) ([]domain.PricingCalculation, error) {
	return rollUp(p, []pricing.Sheet{*p.Context.Delivery}, domain.PricingCategoryDelivery), nil
}

// OrderPayment rolls the payment sheet up into PAYMENT and TAXES rows.
type OrderPayment struct{}

func (OrderPayment) Key() string     { return KeyOrderPayment }
func (OrderPayment) OrderIndex() int { return 20 }

func (OrderPayment) IsActivatedFor(c OrderContext) bool {
	return c.Payment != nil
}

func (OrderPayment) Calculate(_ context.Context, p pricing.Params[OrderContext]) ([]domain.PricingCalculation, error) {
	return rollUp(p, []pricing.Sheet{*p.Context.Payment}, domain.PricingCategoryPayment), nil
}

// OrderDiscount applies fixed amount discounts to the order gross, capped at what is left.
// The reduction is split between net and tax in proportion to the current sheet.
type OrderDiscount struct{}

func (OrderDiscount) Key() string     { return KeyOrderDiscount }
func (OrderDiscount) OrderIndex() int { return 30 }

func (OrderDiscount) IsActivatedFor(c OrderContext) bool {
	return len(c.Items) > 0
}

func (OrderDiscount) Calculate(_ context.Context, p pricing.Params[OrderContext]) ([]domain.PricingCalculation, error) {
	gross := p.Sheet.Gross()
	if !gross.IsPositive() {
		return nil, nil
	}
	taxShare := p.Sheet.TaxSum().Div(gross)
	remaining := gross

	var out []domain.PricingCalculation
	for _, discount := range p.Discounts {
		cfg := discount.Configuration
		if cfg.FixedAmount <= 0 || !remaining.IsPositive() {
			continue
		}
		amount := decimal.NewFromInt(cfg.FixedAmount)
		if cfg.IsNetPrice {
			amount = amount.Div(decimal.NewFromInt(1).Sub(taxShare))
		}
		amount = decimal.Min(amount, remaining)
		remaining = remaining.Sub(amount)

		taxPart := amount.Mul(taxShare)
		reduction := p.Row(domain.PricingCategoryDiscounts, amount.Sub(taxPart).Neg())
		reduction.DiscountID = discount.ID
		out = append(out, reduction)
		if !taxPart.IsZero() {
			correction := p.Row(domain.PricingCategoryTaxes, taxPart.Neg())
			correction.DiscountID = discount.ID
			out = append(out, correction)
		}
	}
	return out, nil
}

// rollUp maps child sheets onto order rows: plain rows into category, discount rows into
// DISCOUNTS per discount and tax rows into TAXES, tax corrections keeping their discount id.
func rollUp(p pricing.Params[OrderContext], sheets []pricing.Sheet, category domain.PricingCategory) []domain.PricingCalculation {
	base := decimal.Zero
	taxes := decimal.Zero
	discounts := make(map[string]decimal.Decimal)
	discountTaxes := make(map[string]decimal.Decimal)

	for _, sheet := range sheets {
		for _, row := range sheet.Rows() {
			switch {
			case row.Category.IsTax() && row.DiscountID != "":
				discountTaxes[row.DiscountID] = discountTaxes[row.DiscountID].Add(row.Amount)
			case row.Category.IsTax():
				taxes = taxes.Add(row.Amount)
			case row.Category.IsDiscount():
				discounts[row.DiscountID] = discounts[row.DiscountID].Add(row.Amount)
			default:
				base = base.Add(row.Amount)
			}
		}
	}

	out := []domain.PricingCalculation{p.Row(category, base)}
	if !taxes.IsZero() {
		out = append(out, p.Row(domain.PricingCategoryTaxes, taxes))
	}

	ids := slices.Collect(maps.Keys(discounts))
	for id := range discountTaxes {
		if _, ok := discounts[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if amount, ok := discounts[id]; ok {
			row := p.Row(domain.PricingCategoryDiscounts, amount)
			row.DiscountID = id
			out = append(out, row)
		}
		if amount, ok := discountTaxes[id]; ok {
			row := p.Row(domain.PricingCategoryTaxes, amount)
			row.DiscountID = id
			out = append(out, row)
		}
	}
	return out
}
