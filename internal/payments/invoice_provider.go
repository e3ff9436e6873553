package payments

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing/rules"
)

// InvoiceKey identifies the pay-by-invoice provider.
const InvoiceKey = "invoice"

// InvoiceProvider lets customers pay after delivery. Charges stay pending until the payment
// is marked paid out of band.
type InvoiceProvider struct {
	// Countries restricts invoicing; empty allows every country.
	Countries []string
	// DueDays is printed on the invoice reference context.
	DueDays   int
	Surcharge rules.Fee
}

func (p InvoiceProvider) Key() string { return InvoiceKey }

func (p InvoiceProvider) IsActive(_ context.Context, order domain.Order) bool {
	if len(p.Countries) == 0 {
		return true
	}
	for _, country := range p.Countries {
		if strings.EqualFold(strings.TrimSpace(country), order.Country) {
			return true
		}
	}
	return false
}

func (p InvoiceProvider) IsPayLaterAllowed(context.Context, domain.Order, domain.OrderPayment) bool {
	return true
}

func (p InvoiceProvider) Charge(context.Context, ChargeRequest) (ChargeResult, error) {
	return ChargeResult{Pending: true}, nil
}

// Sign returns the invoice reference printed on documents.
func (p InvoiceProvider) Sign(_ context.Context, req ChargeRequest) (string, error) {
	if req.Order.OrderNumber == "" {
		return "", fmt.Errorf("%w: order number not assigned", ErrNotSupported)
	}
	return "INV-" + req.Order.OrderNumber, nil
}

func (p InvoiceProvider) Cancel(context.Context, ChargeRequest) error {
	return nil
}

func (p InvoiceProvider) DefaultContext() map[string]any {
	days := p.DueDays
	if days <= 0 {
		days = 30
	}
	return map[string]any{"dueDays": days}
}

func (p InvoiceProvider) TransformContext(_ context.Context, key string, value any) (any, error) {
	if key != "dueDays" {
		return value, nil
	}
	switch v := value.(type) {
	case int:
		if v > 0 {
			return v, nil
		}
	case float64:
		if v > 0 {
			return int(v), nil
		}
	}
	return nil, fmt.Errorf("payments: invoice dueDays must be a positive number")
}

func (p InvoiceProvider) Fee(context.Context, domain.Order) (rules.Fee, error) {
	return p.Surcharge, nil
}
