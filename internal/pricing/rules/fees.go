package rules

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing"
)

var errNoFeeSource = errors.New("provider does not expose fees")

// DeliveryFee emits the delivery provider's fee.
type DeliveryFee struct{}

func (DeliveryFee) Key() string     { return KeyDeliveryFee }
func (DeliveryFee) OrderIndex() int { return 0 }

func (DeliveryFee) IsActivatedFor(c DeliveryContext) bool {
	return c.Provider != nil
}

func (DeliveryFee) Calculate(ctx context.Context, p pricing.Params[DeliveryContext]) ([]domain.PricingCalculation, error) {
	return feeRows(ctx, p, p.Context.Provider, p.Context.Order, domain.PricingCategoryDelivery)
}

// DeliveryTax splits VAT out of a taxable delivery fee.
type DeliveryTax struct {
	Taxes TaxTable
}

func (DeliveryTax) Key() string     { return KeyDeliveryTax }
func (DeliveryTax) OrderIndex() int { return 10 }

func (t DeliveryTax) IsActivatedFor(c DeliveryContext) bool {
	_, _, ok := t.Taxes.RateFor(c.Order.Country, "")
	return ok
}

func (t DeliveryTax) Calculate(_ context.Context, p pricing.Params[DeliveryContext]) ([]domain.PricingCalculation, error) {
	rate, taxID, _ := t.Taxes.RateFor(p.Context.Order.Country, "")
	return taxRows(p, domain.PricingCategoryDelivery, rate, taxID), nil
}

// PaymentFee emits the payment provider's fee.
type PaymentFee struct{}

func (PaymentFee) Key() string     { return KeyPaymentFee }
func (PaymentFee) OrderIndex() int { return 0 }

func (PaymentFee) IsActivatedFor(c PaymentContext) bool {
	return c.Provider != nil
}

func (PaymentFee) Calculate(ctx context.Context, p pricing.Params[PaymentContext]) ([]domain.PricingCalculation, error) {
	return feeRows(ctx, p, p.Context.Provider, p.Context.Order, domain.PricingCategoryPayment)
}

// PaymentTax splits VAT out of a taxable payment fee.
type PaymentTax struct {
	Taxes TaxTable
}

func (PaymentTax) Key() string     { return KeyPaymentTax }
func (PaymentTax) OrderIndex() int { return 10 }

func (t PaymentTax) IsActivatedFor(c PaymentContext) bool {
	_, _, ok := t.Taxes.RateFor(c.Order.Country, "")
	return ok
}

func (t PaymentTax) Calculate(_ context.Context, p pricing.Params[PaymentContext]) ([]domain.PricingCalculation, error) {
	rate, taxID, _ := t.Taxes.RateFor(p.Context.Order.Country, "")
	return taxRows(p, domain.PricingCategoryPayment, rate, taxID), nil
}

func feeRows[C any](ctx context.Context, p pricing.Params[C], source FeeSource, order domain.Order, category domain.PricingCategory) ([]domain.PricingCalculation, error) {
	if source == nil {
		return nil, errNoFeeSource
	}
	fee, err := source.Fee(ctx, order)
	if err != nil {
		return nil, err
	}
	if fee.Amount == 0 {
		return nil, nil
	}
	row := p.Row(category, decimal.NewFromInt(fee.Amount))
	row.Meta = priceMeta(fee.IsNetPrice, fee.IsTaxable)
	return []domain.PricingCalculation{row}, nil
}
