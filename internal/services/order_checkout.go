package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/warehousing"
)

const (
	jobTypeMessage            = "MESSAGE"
	templateOrderConfirmation = "ORDER_CONFIRMATION"
)

// Checkout validates the cart, applies the checkout page context and processes the order. A
// cart failing validation is returned untouched with every issue aggregated.
func (s *orderService) Checkout(ctx context.Context, cmd CheckoutCommand) (result Order, err error) {
	ctx, span := tracer.Start(ctx, "services.Order.Checkout")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("order.id", strings.TrimSpace(cmd.OrderID)))

	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if !order.IsCart() {
		return Order{}, &CheckoutValidationError{Issues: []ValidationIssue{{
			Code:    IssueOrderNotOpen,
			Message: fmt.Sprintf("order is %s", order.Status),
		}}}
	}

	if order, err = s.recalculate(ctx, order); err != nil {
		return Order{}, err
	}
	issues, err := s.checkoutIssues(ctx, order)
	if err != nil {
		return Order{}, err
	}
	if len(issues) > 0 {
		span.SetAttributes(attribute.Int("checkout.issues", len(issues)))
		return Order{}, &CheckoutValidationError{Issues: issues}
	}

	if order, err = s.applyCheckoutContext(ctx, order, cmd); err != nil {
		return Order{}, err
	}
	if order, err = s.recalculate(ctx, order); err != nil {
		return Order{}, err
	}

	processed, err := s.processOrder(ctx, order, "checkout")
	if err != nil {
		return Order{}, err
	}
	s.logger(ctx, "order.checkout", map[string]any{
		"orderId":     processed.ID,
		"orderNumber": processed.OrderNumber,
		"status":      string(processed.Status),
		"actorId":     cmd.ActorID,
	})

	s.fulfillQuotations(ctx, processed)
	s.enqueueConfirmation(ctx, processed)
	s.ensureCartForUser(ctx, processed)
	return processed, nil
}

// Confirm approves a pending order by hand. The override is stored with the CONFIRMED write and
// is permanent: later processing never gates the order on automatic confirmation again.
func (s *orderService) Confirm(ctx context.Context, cmd CheckoutCommand) (result Order, err error) {
	ctx, span := tracer.Start(ctx, "services.Order.Confirm")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status.Normalize() != domain.OrderStatusPending {
		return Order{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.ID, order.Status.Normalize())
	}

	if err := s.applyProviderContexts(ctx, order, cmd); err != nil {
		return Order{}, err
	}
	if len(cmd.OrderContext) > 0 {
		order.Context = mergeContext(order.Context, cmd.OrderContext)
	}
	order.ConfirmedManually = true

	processed, err := s.processOrder(ctx, order, "confirmed manually")
	if err != nil {
		return Order{}, err
	}
	s.logger(ctx, "order.confirmed", map[string]any{
		"orderId": processed.ID,
		"status":  string(processed.Status),
		"actorId": cmd.ActorID,
	})
	s.enqueueConfirmation(ctx, processed)
	return processed, nil
}

// checkoutIssues evaluates every checkout precondition of an open order.
func (s *orderService) checkoutIssues(ctx context.Context, order Order) ([]ValidationIssue, error) {
	var issues []ValidationIssue

	positions, err := s.positions.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if len(positions) == 0 {
		issues = append(issues, ValidationIssue{Code: IssueNoItems, Message: "the cart is empty"})
	}
	if order.BillingAddress == nil {
		issues = append(issues, ValidationIssue{Code: IssueBillingAddressMissing, Message: "billing address is required"})
	}
	if order.Contact == nil || (order.Contact.EmailAddress == "" && order.Contact.TelNumber == "") {
		issues = append(issues, ValidationIssue{Code: IssueContactMissing, Message: "contact is required"})
	}
	if order.DeliveryID == "" {
		issues = append(issues, ValidationIssue{Code: IssueDeliveryProviderMissing, Message: "delivery provider is required"})
	}
	if order.PaymentID == "" {
		issues = append(issues, ValidationIssue{Code: IssuePaymentProviderMissing, Message: "payment provider is required"})
	}

	for _, position := range positions {
		msg, err := s.itemIssue(ctx, order, position)
		if err != nil {
			return nil, err
		}
		if msg != "" {
			issues = append(issues, ValidationIssue{Code: IssueItemNotValid, Message: msg, PositionID: position.ID})
		}
	}
	return issues, nil
}

// itemIssue returns a description of why the position cannot be ordered, or "".
func (s *orderService) itemIssue(ctx context.Context, order Order, position OrderPosition) (string, error) {
	if position.Quantity < 1 {
		return "quantity must be at least 1", nil
	}
	product, err := s.products.FindByID(ctx, position.ProductID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return fmt.Sprintf("product %s no longer exists", position.ProductID), nil
		}
		return "", mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if product.Status != domain.ProductStatusActive {
		return fmt.Sprintf("product %s is not available", product.ID), nil
	}
	if position.QuotationID != nil {
		quotation, err := s.quotations.FindByID(ctx, *position.QuotationID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return fmt.Sprintf("quotation %s no longer exists", *position.QuotationID), nil
			}
			return "", mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if err := s.checkQuotation(order, quotation); err != nil {
			return err.Error(), nil
		}
	} else if _, ok := product.PriceFor(order.Currency, order.Country); !ok {
		return fmt.Sprintf("product %s has no %s price", product.ID, order.Currency), nil
	}
	if s.warehousing != nil {
		for _, provider := range s.warehousing.Supported(ctx, product) {
			err := provider.Validate(ctx, warehousing.ItemRequest{Order: order, Position: position, Product: product})
			if err == nil {
				continue
			}
			if errors.Is(err, warehousing.ErrInsufficientStock) {
				return err.Error(), nil
			}
			return "", fmt.Errorf("%w: validate %s: %w", ErrProviderFailed, position.ID, err)
		}
	}
	return "", nil
}

func (s *orderService) applyCheckoutContext(ctx context.Context, order Order, cmd CheckoutCommand) (Order, error) {
	if err := s.applyProviderContexts(ctx, order, cmd); err != nil {
		return Order{}, err
	}
	if len(cmd.OrderContext) > 0 {
		order.Context = mergeContext(order.Context, cmd.OrderContext)
		order.UpdatedAt = s.now()
		if err := s.orders.Update(ctx, order); err != nil {
			return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
	}
	return order, nil
}

// fulfillQuotations settles the quotations of a checked out order.
func (s *orderService) fulfillQuotations(ctx context.Context, order Order) {
	if order.IsCart() {
		return
	}
	positions, err := s.positions.ListByOrder(ctx, order.ID)
	if err != nil {
		s.logger(ctx, "quotation.fulfill.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return
	}
	for _, position := range positions {
		if position.QuotationID == nil {
			continue
		}
		quotation, err := s.quotations.FindByID(ctx, *position.QuotationID)
		if err == nil && quotation.Status != domain.QuotationStatusFulfilled {
			quotation.Status = domain.QuotationStatusFulfilled
			err = s.quotations.Save(ctx, quotation)
		}
		if err != nil {
			s.logger(ctx, "quotation.fulfill.failed", map[string]any{
				"orderId":     order.ID,
				"quotationId": *position.QuotationID,
				"error":       err.Error(),
			})
		}
	}
}

func (s *orderService) enqueueConfirmation(ctx context.Context, order Order) {
	if s.queue == nil || order.IsCart() {
		return
	}
	jobID, err := s.queue.Enqueue(ctx, WorkQueueJob{
		Type: jobTypeMessage,
		Input: map[string]any{
			"template": templateOrderConfirmation,
			"orderId":  order.ID,
			"status":   string(order.Status),
		},
		Retries:         s.settings.ConfirmationRetries,
		OriginalOrderID: order.ID,
	})
	if err != nil {
		s.logger(ctx, "order.confirmation.enqueue.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return
	}
	s.logger(ctx, "order.confirmation.enqueued", map[string]any{"orderId": order.ID, "jobId": jobID})
}

// ensureCartForUser opens the next cart so the storefront never sees a user without one.
func (s *orderService) ensureCartForUser(ctx context.Context, order Order) {
	if _, err := s.CreateOrder(ctx, CreateOrderCommand{UserID: order.UserID, Currency: order.Currency, Country: order.Country}); err != nil {
		s.logger(ctx, "order.cart.ensure.failed", map[string]any{"userId": order.UserID, "error": err.Error()})
	}
}

func (s *orderService) applyProviderContexts(ctx context.Context, order Order, cmd CheckoutCommand) error {
	if len(cmd.PaymentContext) > 0 && order.PaymentID != "" {
		if _, err := s.paymentFlow.UpdateContext(ctx, order.PaymentID, cmd.PaymentContext); err != nil {
			return err
		}
	}
	if len(cmd.DeliveryContext) > 0 && order.DeliveryID != "" {
		if _, err := s.deliveryFlow.UpdateContext(ctx, order.DeliveryID, cmd.DeliveryContext); err != nil {
			return err
		}
	}
	return nil
}
