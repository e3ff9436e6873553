package rules

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing"
)

// ItemPrice emits the list or quotation price of a position.
type ItemPrice struct{}

func (ItemPrice) Key() string     { return KeyItemPrice }
func (ItemPrice) OrderIndex() int { return 0 }

func (ItemPrice) IsActivatedFor(c ItemContext) bool {
	return c.Position.Quantity > 0
}

func (ItemPrice) Calculate(_ context.Context, p pricing.Params[ItemContext]) ([]domain.PricingCalculation, error) {
	quantity := decimal.NewFromInt(int64(p.Context.Position.Quantity))

	if q := p.Context.Quotation; q != nil {
		if q.Currency != p.Currency {
			return nil, fmt.Errorf("quotation %s is priced in %s, order uses %s", q.ID, q.Currency, p.Currency)
		}
		row := p.Row(domain.PricingCategoryItem, decimal.NewFromInt(q.Amount).Mul(quantity))
		row.Meta = priceMeta(false, true)
		row.Meta["quotationId"] = q.ID
		return []domain.PricingCalculation{row}, nil
	}

	price, ok := p.Context.Product.PriceFor(p.Currency, p.Context.Order.Country)
	if !ok {
		return nil, fmt.Errorf("product %s has no %s price", p.Context.Product.ID, p.Currency)
	}
	row := p.Row(domain.PricingCategoryItem, decimal.NewFromInt(price.Amount).Mul(quantity))
	row.Meta = priceMeta(price.IsNetPrice, price.IsTaxable)
	return []domain.PricingCalculation{row}, nil
}

// ItemTax splits VAT out of taxable item rows.
type ItemTax struct {
	Taxes TaxTable
}

func (ItemTax) Key() string     { return KeyItemTax }
func (ItemTax) OrderIndex() int { return 10 }

func (t ItemTax) IsActivatedFor(c ItemContext) bool {
	_, _, ok := t.Taxes.RateFor(c.Order.Country, c.Product.TaxCategory)
	return ok
}

func (t ItemTax) Calculate(_ context.Context, p pricing.Params[ItemContext]) ([]domain.PricingCalculation, error) {
	rate, taxID, _ := t.Taxes.RateFor(p.Context.Order.Country, p.Context.Product.TaxCategory)
	return taxRows(p, domain.PricingCategoryItem, rate, taxID), nil
}

// ItemDiscount applies relative discounts to the item amount. Each discount is taken from the
// undiscounted amount and the combined rate never exceeds 100%.
type ItemDiscount struct{}

func (ItemDiscount) Key() string     { return KeyItemDiscount }
func (ItemDiscount) OrderIndex() int { return 20 }

func (ItemDiscount) IsActivatedFor(c ItemContext) bool {
	return c.Position.Quantity > 0
}

func (ItemDiscount) Calculate(_ context.Context, p pricing.Params[ItemContext]) ([]domain.PricingCalculation, error) {
	return rateDiscountRows(p, domain.PricingCategoryDiscount, domain.PricingCategoryTax), nil
}

func rateDiscountRows[C any](p pricing.Params[C], discountCategory, taxCategory domain.PricingCategory) []domain.PricingCalculation {
	net := p.Sheet.Net()
	tax := p.Sheet.TaxSum()
	remaining := decimal.NewFromInt(1)

	var out []domain.PricingCalculation
	for _, discount := range p.Discounts {
		if !discount.Configuration.IsRate() || !remaining.IsPositive() {
			continue
		}
		rate := decimal.Min(discount.Configuration.Rate, remaining)
		remaining = remaining.Sub(rate)

		reduction := p.Row(discountCategory, net.Mul(rate).Neg())
		reduction.DiscountID = discount.ID
		out = append(out, reduction)

		if !tax.IsZero() {
			correction := p.Row(taxCategory, tax.Mul(rate).Neg())
			correction.DiscountID = discount.ID
			out = append(out, correction)
		}
	}
	return out
}
