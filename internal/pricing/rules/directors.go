package rules

import (
	"github.com/hanko-field/commerce/internal/pricing"
)

// Directors bundles the pricing directors for every priceable entity of an order.
type Directors struct {
	Item     *pricing.Director[ItemContext]
	Delivery *pricing.Director[DeliveryContext]
	Payment  *pricing.Director[PaymentContext]
	Order    *pricing.Director[OrderContext]
}

// NewDirectors registers the built-in rules. Extra adapters are appended to the matching chain.
func NewDirectors(taxes TaxTable, extra Extensions, opts ...pricing.Option) (Directors, error) {
	item, err := pricing.NewDirector("item", append([]pricing.Adapter[ItemContext]{
		ItemPrice{},
		ItemTax{Taxes: taxes},
		ItemDiscount{},
	}, extra.Item...), opts...)
	if err != nil {
		return Directors{}, err
	}

	delivery, err := pricing.NewDirector("delivery", append([]pricing.Adapter[DeliveryContext]{
		DeliveryFee{},
		DeliveryTax{Taxes: taxes},
	}, extra.Delivery...), opts...)
	if err != nil {
		return Directors{}, err
	}

	payment, err := pricing.NewDirector("payment", append([]pricing.Adapter[PaymentContext]{
		PaymentFee{},
		PaymentTax{Taxes: taxes},
	}, extra.Payment...), opts...)
	if err != nil {
		return Directors{}, err
	}

	order, err := pricing.NewDirector("order", append([]pricing.Adapter[OrderContext]{
		OrderItems{},
		OrderDelivery{},
		OrderPayment{},
		OrderDiscount{},
	}, extra.Order...), opts...)
	if err != nil {
		return Directors{}, err
	}

	return Directors{Item: item, Delivery: delivery, Payment: payment, Order: order}, nil
}

// Extensions lists additional pricing adapters per chain.
type Extensions struct {
	Item     []pricing.Adapter[ItemContext]
	Delivery []pricing.Adapter[DeliveryContext]
	Payment  []pricing.Adapter[PaymentContext]
	Order    []pricing.Adapter[OrderContext]
}
