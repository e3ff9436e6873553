package services

import (
	"context"
	"slices"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing"
	"github.com/hanko-field/commerce/internal/pricing/rules"
	"github.com/hanko-field/commerce/internal/repositories"
)

// calculationPass holds the rebuilt calculations of one pricing pass before they are persisted.
type calculationPass struct {
	positions []OrderPosition
	delivery  *OrderDelivery
	payment   *OrderPayment
	order     []domain.PricingCalculation
}

// UpdateCalculation reconciles the discounts of a cart and rebuilds every calculation. The
// calculation of an order that left OPEN is frozen and returned untouched.
func (s *orderService) UpdateCalculation(ctx context.Context, orderID string) (Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	return s.recalculate(ctx, order)
}

// recalculate prices the order with its attached discounts, reconciles the discounts against
// the fresh order sheet and prices again only when the discount set changed. Running it twice
// without intervening mutations yields identical calculations.
func (s *orderService) recalculate(ctx context.Context, order Order) (Order, error) {
	if !order.IsCart() {
		return order, nil
	}

	attached, err := s.discountRepo.ListByOrder(ctx, order.ID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	positions, err := s.positions.ListByOrder(ctx, order.ID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	pass, err := s.price(ctx, order, positions, attached)
	if err != nil {
		return Order{}, err
	}

	priced := order
	priced.Calculation = pass.order
	reconciled, err := s.discounts.UpdateDiscounts(ctx, priced)
	if err != nil {
		return Order{}, err
	}
	if !sameDiscountSet(attached, reconciled) {
		pass, err = s.price(ctx, priced, positions, reconciled)
		if err != nil {
			return Order{}, err
		}
	}

	return s.persistPass(ctx, order, pass)
}

func (s *orderService) price(ctx context.Context, order Order, positions []OrderPosition, attached []OrderDiscount) (calculationPass, error) {
	resolver := s.discounts.Resolver(order, attached)
	pass := calculationPass{positions: make([]OrderPosition, 0, len(positions))}

	itemSheets := make([]pricing.Sheet, 0, len(positions))
	for _, position := range positions {
		itemCtx, ok, err := s.itemContext(ctx, order, position)
		if err != nil {
			return calculationPass{}, err
		}
		if ok {
			position.Calculation = s.pricing.Item.Rebuild(ctx, itemCtx, order.Currency, resolver)
		} else {
			position.Calculation = nil
		}
		pass.positions = append(pass.positions, position)
		itemSheets = append(itemSheets, pricing.NewSheet(order.Currency, position.Calculation))
	}

	orderCtx := rules.OrderContext{Order: order, Items: itemSheets}

	if order.DeliveryID != "" {
		current, err := s.loadDelivery(ctx, order.DeliveryID)
		if err != nil {
			return calculationPass{}, err
		}
		deliveryCtx := rules.DeliveryContext{Order: order, Delivery: current}
		if provider, err := s.deliveryReg.Provider(current.DeliveryProviderID); err == nil {
			deliveryCtx.Provider = provider
		}
		current.Calculation = s.pricing.Delivery.Rebuild(ctx, deliveryCtx, order.Currency, resolver)
		sheet := pricing.NewSheet(order.Currency, current.Calculation)
		orderCtx.Delivery = &sheet
		pass.delivery = &current
	}

	if order.PaymentID != "" {
		current, err := s.loadPayment(ctx, order.PaymentID)
		if err != nil {
			return calculationPass{}, err
		}
		paymentCtx := rules.PaymentContext{Order: order, Payment: current}
		if provider, err := s.paymentReg.Provider(current.PaymentProviderID); err == nil {
			paymentCtx.Provider = provider
		}
		current.Calculation = s.pricing.Payment.Rebuild(ctx, paymentCtx, order.Currency, resolver)
		sheet := pricing.NewSheet(order.Currency, current.Calculation)
		orderCtx.Payment = &sheet
		pass.payment = &current
	}

	pass.order = s.pricing.Order.Rebuild(ctx, orderCtx, order.Currency, resolver)
	return pass, nil
}

// itemContext loads the product and quotation of a position. A position whose product vanished
// from the catalog prices to nothing instead of failing the whole order.
func (s *orderService) itemContext(ctx context.Context, order Order, position OrderPosition) (rules.ItemContext, bool, error) {
	product, err := s.products.FindByID(ctx, position.ProductID)
	if err != nil {
		if repositories.IsNotFound(err) {
			s.logger(ctx, "order.position.product.missing", map[string]any{
				"orderId":    order.ID,
				"positionId": position.ID,
				"productId":  position.ProductID,
			})
			return rules.ItemContext{}, false, nil
		}
		return rules.ItemContext{}, false, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	itemCtx := rules.ItemContext{Order: order, Position: position, Product: product}
	if position.QuotationID != nil {
		quotation, err := s.quotations.FindByID(ctx, *position.QuotationID)
		if err != nil {
			return rules.ItemContext{}, false, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		itemCtx.Quotation = &quotation
	}
	return itemCtx, true, nil
}

func (s *orderService) persistPass(ctx context.Context, order Order, pass calculationPass) (Order, error) {
	now := s.now()
	err := s.runInTx(ctx, func(ctx context.Context) error {
		for _, position := range pass.positions {
			if err := s.positions.Update(ctx, position); err != nil {
				return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
			}
		}
		if pass.delivery != nil {
			if err := s.deliveries.Update(ctx, *pass.delivery); err != nil {
				return mapRepositoryError(err, ErrDeliveryNotFound, ErrOrderConflict)
			}
		}
		if pass.payment != nil {
			if err := s.payments.Update(ctx, *pass.payment); err != nil {
				return mapRepositoryError(err, ErrPaymentNotFound, ErrOrderConflict)
			}
		}
		order.Calculation = pass.order
		order.UpdatedAt = now
		return mapRepositoryError(s.orders.Update(ctx, order), ErrOrderNotFound, ErrOrderConflict)
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func sameDiscountSet(a, b []OrderDiscount) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make([]string, 0, len(a))
	for _, discount := range a {
		ids = append(ids, discount.ID)
	}
	for _, discount := range b {
		if !slices.Contains(ids, discount.ID) {
			return false
		}
	}
	return true
}
