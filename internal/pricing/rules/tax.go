package rules

import (
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing"
)

const (
	metaIsNetPrice = "isNetPrice"
	metaIsTaxable  = "isTaxable"

	// TaxCategoryReduced selects the reduced rate of a country.
	TaxCategoryReduced = "reduced"
)

// TaxTable maps ISO country codes to VAT rates.
type TaxTable struct {
	Standard map[string]decimal.Decimal
	Reduced  map[string]decimal.Decimal
}

// DefaultTaxTable covers the markets the shop sells to.
func DefaultTaxTable() TaxTable {
	return TaxTable{
		Standard: map[string]decimal.Decimal{
			"JP": decimal.RequireFromString("0.10"),
			"DE": decimal.RequireFromString("0.19"),
			"FR": decimal.RequireFromString("0.20"),
			"CH": decimal.RequireFromString("0.081"),
			"GB": decimal.RequireFromString("0.20"),
		},
		Reduced: map[string]decimal.Decimal{
			"JP": decimal.RequireFromString("0.08"),
			"DE": decimal.RequireFromString("0.07"),
			"FR": decimal.RequireFromString("0.055"),
			"CH": decimal.RequireFromString("0.026"),
			"GB": decimal.RequireFromString("0.05"),
		},
	}
}

// RateFor returns the applicable rate and a tax id. Unknown countries are untaxed.
func (t TaxTable) RateFor(country, category string) (decimal.Decimal, string, bool) {
	country = strings.ToUpper(strings.TrimSpace(country))
	table, kind := t.Standard, "standard"
	if strings.EqualFold(category, TaxCategoryReduced) {
		table, kind = t.Reduced, TaxCategoryReduced
	}
	rate, ok := table[country]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, "", false
	}
	return rate, country + "-" + kind, true
}

// taxRows derives tax for every taxable row of the given category. Net rows get tax added on
// top; gross rows are split so the gross amount stays unchanged.
func taxRows[C any](p pricing.Params[C], category domain.PricingCategory, rate decimal.Decimal, taxID string) []domain.PricingCalculation {
	var out []domain.PricingCalculation
	for _, source := range p.Sheet.FilterBy(pricing.Filter{Category: category}).Rows() {
		if taxable, _ := source.Meta[metaIsTaxable].(bool); !taxable {
			continue
		}
		isNet, _ := source.Meta[metaIsNetPrice].(bool)
		if isNet {
			tax := p.Row(domain.PricingCategoryTax, source.Amount.Mul(rate))
			tax.TaxID = taxID
			out = append(out, tax)
			continue
		}
		net := source.Amount.Div(decimal.NewFromInt(1).Add(rate))
		taxAmount := source.Amount.Sub(net)

		correction := p.Row(category, taxAmount.Neg())
		correction.TaxID = taxID
		tax := p.Row(domain.PricingCategoryTax, taxAmount)
		tax.TaxID = taxID
		out = append(out, correction, tax)
	}
	return out
}

func priceMeta(isNet, isTaxable bool) map[string]any {
	return map[string]any{
		metaIsNetPrice: isNet,
		metaIsTaxable:  isTaxable,
	}
}
