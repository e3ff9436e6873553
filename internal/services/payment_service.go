package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/pricing"
	"github.com/hanko-field/commerce/internal/repositories"
)

const paymentIDPrefix = "pay_"

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Payments    repositories.OrderPaymentRepository
	Registry    *payments.Registry
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments repositories.OrderPaymentRepository
	registry *payments.Registry
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("payment service: provider registry is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &paymentService{
		payments: deps.Payments,
		registry: deps.Registry,
		clock:    func() time.Time { return clock().UTC() },
		newID:    idGen,
		logger:   logger,
	}, nil
}

// Select returns the payment of the order for the provider, creating it with the provider
// defaults on first use.
func (s *paymentService) Select(ctx context.Context, order Order, providerID string) (OrderPayment, error) {
	provider, err := s.registry.Provider(providerID)
	if err != nil {
		return OrderPayment{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	existing, err := s.payments.FindByOrderAndProvider(ctx, order.ID, provider.Key())
	if err == nil {
		return existing, nil
	}
	if !repositories.IsNotFound(err) {
		return OrderPayment{}, mapRepositoryError(err, ErrPaymentNotFound, ErrOrderConflict)
	}

	now := s.clock()
	payment := OrderPayment{
		ID:                paymentIDPrefix + s.newID(),
		OrderID:           order.ID,
		PaymentProviderID: provider.Key(),
		Status:            domain.PaymentStatusOpen,
		Context:           provider.DefaultContext(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.payments.Insert(ctx, payment); err != nil {
		if repositories.IsConflict(err) {
			// lost a race against a concurrent select of the same provider
			return s.findByOrderAndProvider(ctx, order.ID, provider.Key())
		}
		return OrderPayment{}, mapRepositoryError(err, ErrPaymentNotFound, ErrOrderConflict)
	}
	return payment, nil
}

// UpdateContext merges values into the payment context after the provider transformed them.
func (s *paymentService) UpdateContext(ctx context.Context, paymentID string, values map[string]any) (OrderPayment, error) {
	payment, provider, err := s.load(ctx, paymentID)
	if err != nil {
		return OrderPayment{}, err
	}
	transformed := make(map[string]any, len(values))
	for key, value := range values {
		if value == nil {
			transformed[key] = nil
			continue
		}
		out, err := provider.TransformContext(ctx, key, value)
		if err != nil {
			return OrderPayment{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		transformed[key] = out
	}
	payment.Context = mergeContext(payment.Context, transformed)
	payment.UpdatedAt = s.clock()
	if err := s.payments.Update(ctx, payment); err != nil {
		return OrderPayment{}, mapRepositoryError(err, ErrPaymentNotFound, ErrOrderConflict)
	}
	return payment, nil
}

// Charge charges the order total through the provider. A pending charge leaves the payment
// OPEN and is not an error. Charging a PAID payment is a no-op.
func (s *paymentService) Charge(ctx context.Context, order Order, paymentID string) (OrderPayment, error) {
	payment, provider, err := s.load(ctx, paymentID)
	if err != nil {
		return OrderPayment{}, err
	}
	if payment.OrderID != order.ID {
		return OrderPayment{}, fmt.Errorf("%w: payment %s does not belong to order %s", ErrPaymentNotFound, payment.ID, order.ID)
	}
	if payment.CurrentStatus() != domain.PaymentStatusOpen {
		return payment, nil
	}

	total := pricing.NewSheet(order.Currency, order.Calculation).Total(pricing.TotalOptions{})
	result, err := provider.Charge(ctx, payments.ChargeRequest{
		Order:          order,
		Payment:        payment,
		Amount:         total.Amount,
		Currency:       total.Currency,
		IdempotencyKey: "charge-" + payment.ID,
	})
	if err != nil {
		s.logger(ctx, "payment.charge.failed", map[string]any{
			"orderId":   order.ID,
			"paymentId": payment.ID,
			"provider":  provider.Key(),
			"error":     err.Error(),
		})
		return OrderPayment{}, err
	}

	now := s.clock()
	if id := strings.TrimSpace(result.TransactionID); id != "" {
		payment.TransactionID = id
		payment.Context = mergeContext(payment.Context, map[string]any{"transactionId": id})
	}
	if result.Settled {
		payment.Status = domain.PaymentStatusPaid
		payment.Paid = &now
		payment.Log = append(payment.Log, domain.StatusLogEntry{Date: now, Status: string(domain.PaymentStatusPaid), Info: "charged"})
	}
	payment.UpdatedAt = now
	if err := s.payments.Update(ctx, payment); err != nil {
		return OrderPayment{}, mapRepositoryError(err, ErrPaymentNotFound, ErrOrderConflict)
	}

	if result.Pending {
		s.logger(ctx, "payment.charge.pending", map[string]any{
			"orderId":   order.ID,
			"paymentId": payment.ID,
			"provider":  provider.Key(),
		})
	}
	return payment, nil
}

// MarkPaid settles an OPEN payment. Marking a PAID payment again is a no-op.
func (s *paymentService) MarkPaid(ctx context.Context, cmd PaymentStatusCommand) (OrderPayment, error) {
	return s.transition(ctx, cmd, domain.PaymentStatusPaid, func(status domain.PaymentStatus) bool {
		return status == domain.PaymentStatusOpen
	})
}

// MarkRefunded refunds a PAID payment.
func (s *paymentService) MarkRefunded(ctx context.Context, cmd PaymentStatusCommand) (OrderPayment, error) {
	return s.transition(ctx, cmd, domain.PaymentStatusRefunded, func(status domain.PaymentStatus) bool {
		return status == domain.PaymentStatusPaid
	})
}

func (s *paymentService) transition(ctx context.Context, cmd PaymentStatusCommand, target domain.PaymentStatus, allowed func(domain.PaymentStatus) bool) (OrderPayment, error) {
	payment, err := s.findByID(ctx, cmd.PaymentID)
	if err != nil {
		return OrderPayment{}, err
	}
	current := payment.CurrentStatus()
	if current == target {
		return payment, nil
	}
	if !allowed(current) {
		return OrderPayment{}, fmt.Errorf("%w: %s to %s", ErrPaymentInvalidState, current, target)
	}

	now := s.clock()
	if id := strings.TrimSpace(cmd.TransactionID); id != "" {
		payment.TransactionID = id
	}
	if len(cmd.Info) > 0 {
		payment.Context = mergeContext(payment.Context, cmd.Info)
	}
	payment.Status = target
	if target == domain.PaymentStatusPaid && payment.Paid == nil {
		payment.Paid = &now
	}
	payment.Log = append(payment.Log, domain.StatusLogEntry{Date: now, Status: string(target), Info: infoString(cmd.Info)})
	payment.UpdatedAt = now
	if err := s.payments.Update(ctx, payment); err != nil {
		return OrderPayment{}, mapRepositoryError(err, ErrPaymentNotFound, ErrOrderConflict)
	}
	s.logger(ctx, "payment.status.changed", map[string]any{
		"paymentId": payment.ID,
		"orderId":   payment.OrderID,
		"from":      string(current),
		"to":        string(target),
	})
	return payment, nil
}

func (s *paymentService) FindByTransactionID(ctx context.Context, transactionID string) (OrderPayment, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return OrderPayment{}, fmt.Errorf("%w: transaction id is required", ErrOrderInvalidInput)
	}
	payment, err := s.payments.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return OrderPayment{}, mapRepositoryError(err, ErrPaymentNotFound, ErrOrderConflict)
	}
	return payment, nil
}

// BlocksConfirmation holds an order back until the payment settled, unless the provider lets
// the customer pay later.
func (s *paymentService) BlocksConfirmation(ctx context.Context, order Order, payment OrderPayment) bool {
	if payment.CurrentStatus() == domain.PaymentStatusPaid {
		return false
	}
	provider, err := s.registry.Provider(payment.PaymentProviderID)
	if err != nil {
		return true
	}
	return !provider.IsPayLaterAllowed(ctx, order, payment)
}

func (s *paymentService) BlocksFulfillment(_ context.Context, _ Order, payment OrderPayment) bool {
	return payment.CurrentStatus() != domain.PaymentStatusPaid
}

func (s *paymentService) load(ctx context.Context, paymentID string) (OrderPayment, payments.Provider, error) {
	payment, err := s.findByID(ctx, paymentID)
	if err != nil {
		return OrderPayment{}, nil, err
	}
	provider, err := s.registry.Provider(payment.PaymentProviderID)
	if err != nil {
		return OrderPayment{}, nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	return payment, provider, nil
}

func (s *paymentService) findByID(ctx context.Context, paymentID string) (OrderPayment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return OrderPayment{}, fmt.Errorf("%w: payment id is required", ErrOrderInvalidInput)
	}
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return OrderPayment{}, mapRepositoryError(err, ErrPaymentNotFound, ErrOrderConflict)
	}
	return payment, nil
}

func (s *paymentService) findByOrderAndProvider(ctx context.Context, orderID, providerID string) (OrderPayment, error) {
	payment, err := s.payments.FindByOrderAndProvider(ctx, orderID, providerID)
	if err != nil {
		return OrderPayment{}, mapRepositoryError(err, ErrPaymentNotFound, ErrOrderConflict)
	}
	return payment, nil
}

// infoString flattens the "message" of a status info map for the status log.
func infoString(info map[string]any) string {
	if msg, ok := info["message"].(string); ok {
		return msg
	}
	if event, ok := info["event"].(string); ok {
		return event
	}
	return ""
}
