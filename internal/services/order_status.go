package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/commerce/internal/domain"
)

type timestampField func(*Order) **time.Time

func orderedAt(o *Order) **time.Time   { return &o.Ordered }
func confirmedAt(o *Order) **time.Time { return &o.Confirmed }
func fulfilledAt(o *Order) **time.Time { return &o.Fulfilled }

// statusTimestamps lists, per status, the timestamps that must be set once that status is
// reached. Earlier timestamps are backfilled when statuses are skipped.
var statusTimestamps = map[domain.OrderStatus][]timestampField{
	domain.OrderStatusPending:   {orderedAt},
	domain.OrderStatusConfirmed: {orderedAt, confirmedAt},
	domain.OrderStatusFulfilled: {orderedAt, confirmedAt, fulfilledAt},
}

// NextStatus evaluates the furthest status the order can currently reach, without side effects.
func (s *orderService) NextStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	return s.nextStatus(ctx, order)
}

// nextStatus walks the lattice from the current status and stops at the first unmet rule.
// A manually confirmed order is never re-gated on confirmation.
func (s *orderService) nextStatus(ctx context.Context, order Order) (OrderStatus, error) {
	status := order.Status.Normalize()

	if status == domain.OrderStatusOpen {
		issues, err := s.checkoutIssues(ctx, order)
		if err != nil {
			return "", err
		}
		if len(issues) > 0 {
			return status, nil
		}
		status = domain.OrderStatusPending
	}

	if status == domain.OrderStatusPending {
		if !order.ConfirmedManually {
			confirmable, err := s.isAutoConfirmationEnabled(ctx, order)
			if err != nil || !confirmable {
				return status, err
			}
		}
		status = domain.OrderStatusConfirmed
	}

	if status == domain.OrderStatusConfirmed {
		fulfillable, err := s.isAutoFulfillmentEnabled(ctx, order)
		if err != nil || !fulfillable {
			return status, err
		}
		status = domain.OrderStatusFulfilled
	}

	return status, nil
}

func (s *orderService) isAutoConfirmationEnabled(ctx context.Context, order Order) (bool, error) {
	if !s.settings.AutoConfirm {
		return false, nil
	}
	payment, delivery, err := s.currentSubEntities(ctx, order)
	if err != nil || payment == nil || delivery == nil {
		return false, err
	}
	if s.paymentFlow.BlocksConfirmation(ctx, order, *payment) {
		return false, nil
	}
	return !s.deliveryFlow.BlocksConfirmation(ctx, order, *delivery), nil
}

func (s *orderService) isAutoFulfillmentEnabled(ctx context.Context, order Order) (bool, error) {
	if !s.settings.AutoFulfill {
		return false, nil
	}
	payment, delivery, err := s.currentSubEntities(ctx, order)
	if err != nil || payment == nil || delivery == nil {
		return false, err
	}
	if s.paymentFlow.BlocksFulfillment(ctx, order, *payment) {
		return false, nil
	}
	return !s.deliveryFlow.BlocksFulfillment(ctx, order, *delivery), nil
}

func (s *orderService) currentSubEntities(ctx context.Context, order Order) (*OrderPayment, *OrderDelivery, error) {
	if order.PaymentID == "" || order.DeliveryID == "" {
		return nil, nil, nil
	}
	payment, err := s.loadPayment(ctx, order.PaymentID)
	if err != nil {
		return nil, nil, err
	}
	delivery, err := s.loadDelivery(ctx, order.DeliveryID)
	if err != nil {
		return nil, nil, err
	}
	return &payment, &delivery, nil
}

// setStatus persists a forward transition. It assigns the order number when the order first
// leaves OPEN, backfills timestamps and generates the documents of the new status. Requests
// that would not advance the status are no-ops.
func (s *orderService) setStatus(ctx context.Context, order Order, status OrderStatus, info string) (Order, error) {
	status = status.Normalize()
	if status.Rank() < 0 {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidState, status)
	}
	if !order.Status.Before(status) {
		return order, nil
	}

	now := s.now()
	previous := order.Status.Normalize()
	if order.OrderNumber == "" {
		number, err := s.generateOrderNumber(ctx, now)
		if err != nil {
			return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		order.OrderNumber = number
	}
	for _, field := range statusTimestamps[status] {
		if ts := field(&order); *ts == nil {
			stamp := now
			*ts = &stamp
		}
	}
	order.Status = status
	order.Log = append(order.Log, domain.StatusLogEntry{Date: now, Status: string(status), Info: info})
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	if s.transitions != nil {
		s.transitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", string(previous)),
			attribute.String("to", string(status)),
		))
	}
	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"from":        string(previous),
		"to":          string(status),
		"info":        info,
	})

	s.generateDocuments(ctx, order, now)
	return order, nil
}

// generateDocuments never fails the transition; errors are logged.
func (s *orderService) generateDocuments(ctx context.Context, order Order, date time.Time) {
	if s.documents == nil {
		return
	}
	req := DocumentRequest{Order: order, Status: order.Status, Date: date}
	if positions, err := s.positions.ListByOrder(ctx, order.ID); err == nil {
		req.Positions = positions
	}
	if payment, delivery, err := s.currentSubEntities(ctx, order); err == nil {
		req.Payment = payment
		req.Delivery = delivery
	}

	docs, err := s.documents.Generate(ctx, req)
	if err != nil {
		s.logger(ctx, "document.generate.failed", map[string]any{
			"orderId": order.ID,
			"status":  string(order.Status),
			"error":   err.Error(),
		})
		return
	}
	for _, doc := range docs {
		s.logger(ctx, "document.generated", map[string]any{
			"orderId":    order.ID,
			"documentId": doc.ID,
			"type":       doc.Type,
		})
	}
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, "orders", 1)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d-%06d", s.settings.OrderNumberPrefix, now.Year(), seq), nil
}
