package pricing

import (
	"maps"
	"reflect"
	"slices"
	"sort"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Price is a rounded amount in minor currency units.
type Price struct {
	Amount   int64
	Currency string
}

// Filter matches rows field by field. Zero valued fields are ignored.
type Filter struct {
	Category   domain.PricingCategory
	DiscountID string
	TaxID      string
	AdapterKey string
	Meta       map[string]any
}

func (f Filter) matches(row domain.PricingCalculation) bool {
	if f.Category != "" && row.Category != f.Category {
		return false
	}
	if f.DiscountID != "" && row.DiscountID != f.DiscountID {
		return false
	}
	if f.TaxID != "" && row.TaxID != f.TaxID {
		return false
	}
	if f.AdapterKey != "" && row.AdapterKey != f.AdapterKey {
		return false
	}
	for key, want := range f.Meta {
		got, ok := row.Meta[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// TotalOptions selects what Total sums.
type TotalOptions struct {
	Category    domain.PricingCategory
	UseNetPrice bool
}

// Sheet is the queryable result of one calculation pass. It never mutates its rows.
type Sheet struct {
	currency string
	rows     []domain.PricingCalculation
}

// NewSheet copies rows into a new sheet for the given currency.
func NewSheet(currency string, rows []domain.PricingCalculation) Sheet {
	return Sheet{currency: currency, rows: slices.Clone(rows)}
}

// Currency returns the currency the sheet was built for.
func (s Sheet) Currency() string {
	return s.currency
}

// Rows returns a copy of the calculation rows.
func (s Sheet) Rows() []domain.PricingCalculation {
	return slices.Clone(s.rows)
}

// Len returns the row count.
func (s Sheet) Len() int {
	return len(s.rows)
}

// FilterBy returns a sheet holding only rows matching every set field of each filter.
func (s Sheet) FilterBy(filters ...Filter) Sheet {
	out := make([]domain.PricingCalculation, 0, len(s.rows))
	for _, row := range s.rows {
		keep := true
		for _, f := range filters {
			if !f.matches(row) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return Sheet{currency: s.currency, rows: out}
}

// Sum adds up the amounts of rows matching the filter.
func (s Sheet) Sum(filter Filter) decimal.Decimal {
	sum := decimal.Zero
	for _, row := range s.rows {
		if filter.matches(row) {
			sum = sum.Add(row.Amount)
		}
	}
	return sum
}

// Gross is the sum of all rows.
func (s Sheet) Gross() decimal.Decimal {
	return s.Sum(Filter{})
}

// TaxSum is the sum of all tax rows.
func (s Sheet) TaxSum() decimal.Decimal {
	sum := decimal.Zero
	for _, row := range s.rows {
		if row.Category.IsTax() {
			sum = sum.Add(row.Amount)
		}
	}
	return sum
}

// Net is the gross amount without taxes.
func (s Sheet) Net() decimal.Decimal {
	return s.Gross().Sub(s.TaxSum())
}

// Total rounds to whole minor units. With a category only that category is summed,
// otherwise the net or gross amount depending on UseNetPrice.
func (s Sheet) Total(opts TotalOptions) Price {
	var amount decimal.Decimal
	switch {
	case opts.Category != "":
		amount = s.Sum(Filter{Category: opts.Category})
	case opts.UseNetPrice:
		amount = s.Net()
	default:
		amount = s.Gross()
	}
	return Price{Amount: Round(amount), Currency: s.currency}
}

// DiscountPrice is the rounded contribution of one discount.
type DiscountPrice struct {
	DiscountID string
	Price      Price
}

// DiscountPrices groups discount rows by discount id, tax corrections included, sorted by id.
func (s Sheet) DiscountPrices() []DiscountPrice {
	sums := make(map[string]decimal.Decimal)
	for _, row := range s.rows {
		if row.DiscountID == "" {
			continue
		}
		sums[row.DiscountID] = sums[row.DiscountID].Add(row.Amount)
	}
	ids := slices.Collect(maps.Keys(sums))
	sort.Strings(ids)
	out := make([]DiscountPrice, 0, len(ids))
	for _, id := range ids {
		out = append(out, DiscountPrice{
			DiscountID: id,
			Price:      Price{Amount: Round(sums[id]), Currency: s.currency},
		})
	}
	return out
}

// Round converts a fractional minor unit amount to an integer, half away from zero.
func Round(amount decimal.Decimal) int64 {
	return amount.Round(0).IntPart()
}
