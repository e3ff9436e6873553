package services

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/warehousing"
)

// ProcessOrder advances the order as far as its payment and delivery allow. It is safe to call
// repeatedly, e.g. from payment webhooks.
func (s *orderService) ProcessOrder(ctx context.Context, orderID string) (Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	return s.processOrder(ctx, order, "")
}

// processOrder persists every reached status in lattice order. The charge runs before PENDING is
// stored, so a declined card leaves the cart open. CONFIRMED is stored before its side effects
// because documents and numbering happen on that write; the side effects are idempotent and are
// re-run whenever the order sits at CONFIRMED, so a failed dispatch is retried by the next call.
func (s *orderService) processOrder(ctx context.Context, order Order, info string) (result Order, err error) {
	ctx, span := tracer.Start(ctx, "services.Order.Process")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("order.status", string(result.Status)))
		}
		span.End()
	}()
	span.SetAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("order.status.from", string(order.Status.Normalize())),
	)

	next, err := s.nextStatus(ctx, order)
	if err != nil {
		return Order{}, err
	}

	if order.IsCart() && !next.Before(domain.OrderStatusPending) {
		if _, err := s.paymentFlow.Charge(ctx, order, order.PaymentID); err != nil {
			return Order{}, fmt.Errorf("%w: charge: %w", ErrProviderFailed, err)
		}
		s.snapshotUser(ctx, order)
		if order, err = s.setStatus(ctx, order, domain.OrderStatusPending, info); err != nil {
			return Order{}, err
		}
		if next, err = s.nextStatus(ctx, order); err != nil {
			return Order{}, err
		}
	}

	if order.Status.Normalize() == domain.OrderStatusPending && !next.Before(domain.OrderStatusConfirmed) {
		if order, err = s.setStatus(ctx, order, domain.OrderStatusConfirmed, info); err != nil {
			return Order{}, err
		}
	}

	if order.Status.Normalize() == domain.OrderStatusConfirmed {
		if err := s.confirmOrder(ctx, order); err != nil {
			return Order{}, err
		}
		// dispatch may have delivered the parcel already
		if next, err = s.nextStatus(ctx, order); err != nil {
			return Order{}, err
		}
	}

	return s.setStatus(ctx, order, next, info)
}

// confirmOrder dispatches the delivery, spawns subscriptions and reserves stock. Every step
// skips work that an earlier run already completed.
func (s *orderService) confirmOrder(ctx context.Context, order Order) error {
	positions, err := s.positions.ListByOrder(ctx, order.ID)
	if err != nil {
		return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	if order.DeliveryID != "" {
		if _, err := s.deliveryFlow.Send(ctx, order, order.DeliveryID, positions); err != nil {
			return fmt.Errorf("%w: send delivery: %w", ErrProviderFailed, err)
		}
	}

	products := make(map[string]Product, len(positions))
	for _, position := range positions {
		product, err := s.products.FindByID(ctx, position.ProductID)
		if err != nil {
			if repositories.IsNotFound(err) {
				continue
			}
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		products[position.ID] = product
	}

	if err := s.generateSubscriptions(ctx, order, positions, products); err != nil {
		return err
	}
	return s.reserveItems(ctx, order, positions, products)
}

func (s *orderService) generateSubscriptions(ctx context.Context, order Order, positions []OrderPosition, products map[string]Product) error {
	if s.subscriptions == nil {
		return nil
	}
	var items []SubscriptionItem
	for _, position := range positions {
		product, ok := products[position.ID]
		if !ok || product.SubscriptionPlan == nil {
			continue
		}
		items = append(items, SubscriptionItem{Position: position, Product: product})
	}
	if len(items) == 0 {
		return nil
	}
	created, err := s.subscriptions.Generate(ctx, order, items)
	if err != nil {
		return fmt.Errorf("%w: generate subscriptions: %w", ErrProviderFailed, err)
	}
	s.logger(ctx, "order.subscriptions.generated", map[string]any{
		"orderId": order.ID,
		"count":   len(created),
	})
	return nil
}

// reserveItems commits each position with its first supported warehousing provider. Positions
// already reserved with that provider are skipped.
func (s *orderService) reserveItems(ctx context.Context, order Order, positions []OrderPosition, products map[string]Product) error {
	if s.warehousing == nil {
		return nil
	}
	for _, position := range positions {
		product, ok := products[position.ID]
		if !ok {
			continue
		}
		supported := s.warehousing.Supported(ctx, product)
		if len(supported) == 0 {
			continue
		}
		provider := supported[0]
		if slices.ContainsFunc(position.Scheduling, func(entry domain.SchedulingEntry) bool {
			return entry.WarehousingProviderID == provider.Key() && entry.Reserved
		}) {
			continue
		}
		entry, err := provider.Reserve(ctx, warehousing.ItemRequest{Order: order, Position: position, Product: product})
		if err != nil {
			return fmt.Errorf("%w: reserve %s: %w", ErrProviderFailed, position.ID, err)
		}
		position.Scheduling = append(position.Scheduling, entry)
		position.UpdatedAt = s.now()
		if err := s.positions.Update(ctx, position); err != nil {
			return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
	}
	return nil
}

// snapshotUser remembers the billing data of the order for the user's next cart. Failures are
// logged only.
func (s *orderService) snapshotUser(ctx context.Context, order Order) {
	user, err := s.users.FindByID(ctx, order.UserID)
	if err != nil {
		if !repositories.IsNotFound(err) {
			s.logger(ctx, "user.snapshot.failed", map[string]any{"orderId": order.ID, "userId": order.UserID, "error": err.Error()})
			return
		}
		user = User{ID: order.UserID}
	}
	user.LastBillingAddress = cloneAddress(order.BillingAddress)
	user.LastContact = cloneContact(order.Contact)
	if user.Country == "" {
		user.Country = order.Country
	}
	user.UpdatedAt = s.now()
	if err := s.users.Save(ctx, user); err != nil {
		s.logger(ctx, "user.snapshot.failed", map[string]any{"orderId": order.ID, "userId": order.UserID, "error": err.Error()})
	}
}
