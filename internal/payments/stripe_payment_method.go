package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
)

// ErrInvalidPaymentMethod is returned when a payment method cannot be charged by the provider.
var ErrInvalidPaymentMethod = errors.New("payments: invalid payment method")

// PaymentMethodDetails captures PSP-sourced metadata for a payment instrument.
type PaymentMethodDetails struct {
	Token    string
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

func (p *StripeProvider) lookupPaymentMethod(ctx context.Context, token string) (PaymentMethodDetails, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return PaymentMethodDetails{}, fmt.Errorf("%w: token is required", ErrInvalidPaymentMethod)
	}

	params := &stripe.PaymentMethodParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}

	pm, err := p.api.paymentMethods.Get(token, params)
	if err != nil {
		return PaymentMethodDetails{}, fmt.Errorf("stripe: lookup payment method: %w", err)
	}
	if pm == nil || pm.Type != stripe.PaymentMethodTypeCard || pm.Card == nil {
		return PaymentMethodDetails{}, fmt.Errorf("%w: %s is not a card", ErrInvalidPaymentMethod, token)
	}

	details := PaymentMethodDetails{
		Token:    token,
		Brand:    strings.ToLower(string(pm.Card.Brand)),
		Last4:    strings.TrimSpace(pm.Card.Last4),
		ExpMonth: int(pm.Card.ExpMonth),
		ExpYear:  int(pm.Card.ExpYear),
	}
	if trimmed := strings.TrimSpace(pm.ID); trimmed != "" {
		details.Token = trimmed
	}
	if details.ExpYear > 0 {
		now := p.clock()
		if details.ExpYear < now.Year() || (details.ExpYear == now.Year() && details.ExpMonth < int(now.Month())) {
			return PaymentMethodDetails{}, fmt.Errorf("%w: card expired", ErrInvalidPaymentMethod)
		}
	}
	return details, nil
}
