package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

type paymentRepo struct{ s *Store }

func (r paymentRepo) Insert(_ context.Context, payment domain.OrderPayment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.payments {
		if existing.ID == payment.ID || (existing.OrderID == payment.OrderID && existing.PaymentProviderID == payment.PaymentProviderID) {
			return repositories.NewConflict("payments.insert", "payment for order %s and provider %s already exists", payment.OrderID, payment.PaymentProviderID)
		}
	}
	r.s.track(payment.ID)
	r.s.payments[payment.ID] = clonePayment(payment)
	return nil
}

func (r paymentRepo) Update(_ context.Context, payment domain.OrderPayment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.payments[payment.ID]; !ok {
		return repositories.NewNotFound("payments.update", "payment %s not found", payment.ID)
	}
	r.s.payments[payment.ID] = clonePayment(payment)
	return nil
}

func (r paymentRepo) FindByID(_ context.Context, paymentID string) (domain.OrderPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	payment, ok := r.s.payments[paymentID]
	if !ok {
		return domain.OrderPayment{}, repositories.NewNotFound("payments.find", "payment %s not found", paymentID)
	}
	return clonePayment(payment), nil
}

func (r paymentRepo) FindByOrderAndProvider(_ context.Context, orderID string, providerID string) (domain.OrderPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, payment := range r.s.payments {
		if payment.OrderID == orderID && payment.PaymentProviderID == providerID {
			return clonePayment(payment), nil
		}
	}
	return domain.OrderPayment{}, repositories.NewNotFound("payments.findByOrder", "no %s payment for order %s", providerID, orderID)
}

func (r paymentRepo) FindByTransactionID(_ context.Context, transactionID string) (domain.OrderPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, payment := range r.s.payments {
		if transactionID != "" && payment.TransactionID == transactionID {
			return clonePayment(payment), nil
		}
	}
	return domain.OrderPayment{}, repositories.NewNotFound("payments.findByTransaction", "no payment for transaction %s", transactionID)
}

type deliveryRepo struct{ s *Store }

func (r deliveryRepo) Insert(_ context.Context, delivery domain.OrderDelivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.deliveries {
		if existing.ID == delivery.ID || (existing.OrderID == delivery.OrderID && existing.DeliveryProviderID == delivery.DeliveryProviderID) {
			return repositories.NewConflict("deliveries.insert", "delivery for order %s and provider %s already exists", delivery.OrderID, delivery.DeliveryProviderID)
		}
	}
	r.s.track(delivery.ID)
	r.s.deliveries[delivery.ID] = cloneDelivery(delivery)
	return nil
}

func (r deliveryRepo) Update(_ context.Context, delivery domain.OrderDelivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.deliveries[delivery.ID]; !ok {
		return repositories.NewNotFound("deliveries.update", "delivery %s not found", delivery.ID)
	}
	r.s.deliveries[delivery.ID] = cloneDelivery(delivery)
	return nil
}

func (r deliveryRepo) FindByID(_ context.Context, deliveryID string) (domain.OrderDelivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delivery, ok := r.s.deliveries[deliveryID]
	if !ok {
		return domain.OrderDelivery{}, repositories.NewNotFound("deliveries.find", "delivery %s not found", deliveryID)
	}
	return cloneDelivery(delivery), nil
}

func (r deliveryRepo) FindByOrderAndProvider(_ context.Context, orderID string, providerID string) (domain.OrderDelivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, delivery := range r.s.deliveries {
		if delivery.OrderID == orderID && delivery.DeliveryProviderID == providerID {
			return cloneDelivery(delivery), nil
		}
	}
	return domain.OrderDelivery{}, repositories.NewNotFound("deliveries.findByOrder", "no %s delivery for order %s", providerID, orderID)
}

type productRepo struct{ s *Store }

func (r productRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	product, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewNotFound("products.find", "product %s not found", productID)
	}
	product.Prices = slices.Clone(product.Prices)
	return product, nil
}

func (r productRepo) Save(_ context.Context, product domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	product.Prices = slices.Clone(product.Prices)
	r.s.products[product.ID] = product
	return nil
}

type quotationRepo struct{ s *Store }

func (r quotationRepo) FindByID(_ context.Context, quotationID string) (domain.Quotation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	quotation, ok := r.s.quotations[quotationID]
	if !ok {
		return domain.Quotation{}, repositories.NewNotFound("quotations.find", "quotation %s not found", quotationID)
	}
	return quotation, nil
}

func (r quotationRepo) Save(_ context.Context, quotation domain.Quotation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.quotations[quotation.ID] = quotation
	return nil
}

type userRepo struct{ s *Store }

func (r userRepo) FindByID(_ context.Context, userID string) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	user, ok := r.s.users[userID]
	if !ok {
		return domain.User{}, repositories.NewNotFound("users.find", "user %s not found", userID)
	}
	return user, nil
}

func (r userRepo) Save(_ context.Context, user domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.users[user.ID] = user
	return nil
}

type stockRepo struct{ s *Store }

func (r stockRepo) Get(_ context.Context, sku string) (domain.StockLevel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	level, ok := r.s.stock[sku]
	if !ok {
		return domain.StockLevel{}, repositories.NewNotFound("stock.get", "stock %s not found", sku)
	}
	return level, nil
}

func (r stockRepo) Commit(_ context.Context, sku string, quantity int, _ string, now time.Time) (domain.StockLevel, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if quantity <= 0 {
		return domain.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, fmt.Sprintf("quantity for %s must be > 0", sku), nil)
	}
	level, ok := r.s.stock[sku]
	if !ok {
		return domain.StockLevel{}, repositories.NewNotFound("stock.commit", "stock %s not found", sku)
	}
	if level.Available() < quantity {
		return domain.StockLevel{}, repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for %s", sku), nil)
	}
	level.Committed += quantity
	level.UpdatedAt = now
	r.s.stock[sku] = level
	return level, nil
}

func (r stockRepo) Set(_ context.Context, level domain.StockLevel) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.stock[level.SKU] = level
	return nil
}

type couponRepo struct{ s *Store }

func (r couponRepo) ReserveRedemption(_ context.Context, code string, orderID string, maxRedemptions int) (string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	orders := r.s.redemptions[code]
	if orders == nil {
		orders = map[string]string{}
		r.s.redemptions[code] = orders
	}
	if id, ok := orders[orderID]; ok {
		return id, nil
	}
	if maxRedemptions > 0 && len(orders) >= maxRedemptions {
		return "", repositories.NewConflict("coupons.reserve", "coupon %s exhausted", code)
	}
	id := strings.ToLower(code) + "_" + orderID
	orders[orderID] = id
	return id, nil
}

func (r couponRepo) ReleaseRedemption(_ context.Context, code string, orderID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.redemptions[code], orderID)
	return nil
}

type subscriptionRepo struct{ s *Store }

func (r subscriptionRepo) Insert(_ context.Context, subscription domain.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.subscriptions {
		if existing.PositionID == subscription.PositionID {
			return repositories.NewConflict("subscriptions.insert", "subscription for position %s exists", subscription.PositionID)
		}
	}
	r.s.track(subscription.ID)
	r.s.subscriptions[subscription.ID] = subscription
	return nil
}

func (r subscriptionRepo) FindByPosition(_ context.Context, positionID string) (domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, subscription := range r.s.subscriptions {
		if subscription.PositionID == positionID {
			return subscription, nil
		}
	}
	return domain.Subscription{}, repositories.NewNotFound("subscriptions.findByPosition", "no subscription for position %s", positionID)
}

func (r subscriptionRepo) ListByOrder(_ context.Context, orderID string) ([]domain.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Subscription, 0)
	for _, subscription := range r.s.subscriptions {
		if subscription.OrderID == orderID {
			out = append(out, subscription)
		}
	}
	slices.SortFunc(out, func(a, b domain.Subscription) int {
		return r.s.compare(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return out, nil
}

type documentRepo struct{ s *Store }

func (r documentRepo) Insert(_ context.Context, document domain.OrderDocument) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.track(document.ID)
	r.s.documents[document.ID] = document
	return nil
}

func (r documentRepo) ListByOrder(_ context.Context, orderID string) ([]domain.OrderDocument, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.OrderDocument, 0)
	for _, document := range r.s.documents {
		if document.OrderID == orderID {
			out = append(out, document)
		}
	}
	slices.SortFunc(out, func(a, b domain.OrderDocument) int {
		return r.s.compare(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return out, nil
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(_ context.Context, counterID string, step int64) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if strings.TrimSpace(counterID) == "" {
		return 0, fmt.Errorf("counters.next: counter id is required")
	}
	if step <= 0 {
		step = 1
	}
	r.s.counters[counterID] += step
	return r.s.counters[counterID], nil
}
