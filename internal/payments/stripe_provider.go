package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing/rules"
)

// StripeKey identifies the card provider.
const StripeKey = "stripe"

// ErrChargeFailed is returned when the PSP rejects a charge.
var ErrChargeFailed = errors.New("payments: charge failed")

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type stripePaymentMethodAPI interface {
	Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripeClients struct {
	intents        stripePaymentIntentAPI
	paymentMethods stripePaymentMethodAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	// Currencies restricts the provider; empty allows every currency.
	Currencies []string
	Fee        rules.Fee
	Logger     StripeLogger
	Clock      func() time.Time
	Clients    *stripeClients
}

// StripeProvider charges cards through Stripe Payment Intents.
type StripeProvider struct {
	api        stripeClients
	account    string
	currencies map[string]struct{}
	fee        rules.Fee
	clock      func() time.Time
	logger     StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents:        sc.PaymentIntents,
			paymentMethods: sc.PaymentMethods,
		}
	}
	if clients.intents == nil || clients.paymentMethods == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	currencies := make(map[string]struct{}, len(cfg.Currencies))
	for _, c := range cfg.Currencies {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			currencies[c] = struct{}{}
		}
	}

	return &StripeProvider{
		api:        clients,
		account:    strings.TrimSpace(cfg.AccountID),
		currencies: currencies,
		fee:        cfg.Fee,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (p *StripeProvider) Key() string { return StripeKey }

func (p *StripeProvider) IsActive(_ context.Context, order domain.Order) bool {
	if len(p.currencies) == 0 {
		return true
	}
	_, ok := p.currencies[strings.ToUpper(order.Currency)]
	return ok
}

// IsPayLaterAllowed is false: card orders confirm only once the intent succeeded.
func (p *StripeProvider) IsPayLaterAllowed(context.Context, domain.Order, domain.OrderPayment) bool {
	return false
}

// Charge confirms the payment intent for the payment method stored in the payment context.
// Without a payment method the charge is pending.
func (p *StripeProvider) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if p == nil {
		return ChargeResult{}, errors.New("stripe: provider is nil")
	}
	intentID := stringValue(req.Payment.Context, "paymentIntentId")
	methodID := stringValue(req.Payment.Context, "paymentMethodId")
	if intentID == "" && methodID == "" {
		return ChargeResult{Pending: true}, nil
	}

	var (
		intent *stripe.PaymentIntent
		err    error
	)
	if intentID != "" {
		params := &stripe.PaymentIntentConfirmParams{}
		params.Context = ctx
		p.applyRequestOptions(&params.Params, req.IdempotencyKey)
		if methodID != "" {
			params.PaymentMethod = stripe.String(methodID)
		}
		intent, err = p.api.intents.Confirm(intentID, params)
	} else {
		params := p.intentParams(ctx, req)
		params.PaymentMethod = stripe.String(methodID)
		params.Confirm = stripe.Bool(true)
		intent, err = p.api.intents.New(params)
	}
	if err != nil {
		return ChargeResult{}, fmt.Errorf("%w: stripe: %v", ErrChargeFailed, err)
	}

	p.logger(ctx, "payments.stripe.intent.charged", map[string]any{
		"orderId":       req.Order.ID,
		"paymentIntent": intent.ID,
		"status":        string(intent.Status),
	})
	return chargeResultFromIntent(intent)
}

// Sign creates an unconfirmed payment intent and returns its client secret for client side
// confirmation.
func (p *StripeProvider) Sign(ctx context.Context, req ChargeRequest) (string, error) {
	if p == nil {
		return "", errors.New("stripe: provider is nil")
	}
	intent, err := p.api.intents.New(p.intentParams(ctx, req))
	if err != nil {
		return "", fmt.Errorf("stripe: create payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"orderId":       req.Order.ID,
		"paymentIntent": intent.ID,
	})
	return intent.ClientSecret, nil
}

// Cancel cancels the payment intent recorded on the payment, if any.
func (p *StripeProvider) Cancel(ctx context.Context, req ChargeRequest) error {
	if p == nil {
		return errors.New("stripe: provider is nil")
	}
	intentID := strings.TrimSpace(req.Payment.TransactionID)
	if intentID == "" {
		intentID = stringValue(req.Payment.Context, "paymentIntentId")
	}
	if intentID == "" {
		return nil
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	p.applyRequestOptions(&params.Params, req.IdempotencyKey)
	if _, err := p.api.intents.Cancel(intentID, params); err != nil {
		return fmt.Errorf("stripe: cancel payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.canceled", map[string]any{
		"orderId":       req.Order.ID,
		"paymentIntent": intentID,
	})
	return nil
}

func (p *StripeProvider) DefaultContext() map[string]any {
	return map[string]any{"paymentMethodId": ""}
}

// TransformContext resolves payment method ids against Stripe so only valid card methods are
// stored. Other keys pass through.
func (p *StripeProvider) TransformContext(ctx context.Context, key string, value any) (any, error) {
	if key != "paymentMethodId" {
		return value, nil
	}
	token, _ := value.(string)
	if strings.TrimSpace(token) == "" {
		return "", nil
	}
	details, err := p.lookupPaymentMethod(ctx, token)
	if err != nil {
		return nil, err
	}
	return details.Token, nil
}

func (p *StripeProvider) Fee(context.Context, domain.Order) (rules.Fee, error) {
	return p.fee, nil
}

func (p *StripeProvider) intentParams(ctx context.Context, req ChargeRequest) *stripe.PaymentIntentParams {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(strings.ToLower(req.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Metadata: map[string]string{
			"orderId":   req.Order.ID,
			"paymentId": req.Payment.ID,
		},
	}
	params.Context = ctx
	p.applyRequestOptions(&params.Params, req.IdempotencyKey)
	return params
}

func (p *StripeProvider) applyRequestOptions(params *stripe.Params, idempotencyKey string) {
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
}

func chargeResultFromIntent(intent *stripe.PaymentIntent) (ChargeResult, error) {
	if intent == nil {
		return ChargeResult{}, fmt.Errorf("%w: empty payment intent", ErrChargeFailed)
	}
	result := ChargeResult{
		TransactionID: intent.ID,
		Info:          map[string]any{"status": string(intent.Status)},
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		result.Settled = true
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture,
		stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		result.Pending = true
		if intent.NextAction != nil {
			result.Info["nextAction"] = string(intent.NextAction.Type)
		}
	default:
		reason := string(intent.Status)
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			reason = intent.LastPaymentError.Msg
		}
		return result, fmt.Errorf("%w: %s", ErrChargeFailed, reason)
	}
	return result, nil
}
