package rules

import (
	"context"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing"
)

// Adapter keys. Discount adapters return configurations per key.
const (
	KeyItemPrice     = "item-price"
	KeyItemTax       = "item-tax"
	KeyItemDiscount  = "item-discount"
	KeyDeliveryFee   = "delivery-fee"
	KeyDeliveryTax   = "delivery-tax"
	KeyPaymentFee    = "payment-fee"
	KeyPaymentTax    = "payment-tax"
	KeyOrderItems    = "order-items"
	KeyOrderDelivery = "order-delivery"
	KeyOrderPayment  = "order-payment"
	KeyOrderDiscount = "order-discount"
)

// ItemContext prices one order position.
type ItemContext struct {
	Order     domain.Order
	Position  domain.OrderPosition
	Product   domain.Product
	Quotation *domain.Quotation
}

// Fee is the amount a delivery or payment provider charges for an order.
type Fee struct {
	Amount     int64
	IsNetPrice bool
	IsTaxable  bool
}

// FeeSource is implemented by providers that charge for their service.
type FeeSource interface {
	Fee(ctx context.Context, order domain.Order) (Fee, error)
}

// DeliveryContext prices the current delivery of an order.
type DeliveryContext struct {
	Order    domain.Order
	Delivery domain.OrderDelivery
	Provider FeeSource
}

// PaymentContext prices the current payment of an order.
type PaymentContext struct {
	Order    domain.Order
	Payment  domain.OrderPayment
	Provider FeeSource
}

// OrderContext aggregates the sheets of everything belonging to an order.
type OrderContext struct {
	Order    domain.Order
	Items    []pricing.Sheet
	Delivery *pricing.Sheet
	Payment  *pricing.Sheet
}
