package handlers

import (
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing"
	"github.com/hanko-field/commerce/internal/services"
)

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Company    *string `json:"company,omitempty"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func (p addressPayload) toDomain() services.Address {
	return services.Address{
		Recipient:  p.Recipient,
		Company:    p.Company,
		Line1:      p.Line1,
		Line2:      p.Line2,
		City:       p.City,
		State:      p.State,
		PostalCode: p.PostalCode,
		Country:    p.Country,
		Phone:      p.Phone,
	}
}

func buildAddressPayload(addr *domain.Address) *addressPayload {
	if addr == nil {
		return nil
	}
	return &addressPayload{
		Recipient:  addr.Recipient,
		Company:    addr.Company,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

type contactPayload struct {
	Email string `json:"email"`
	Tel   string `json:"tel,omitempty"`
}

type pricePayload struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func buildPricePayload(price pricing.Price) pricePayload {
	return pricePayload{Amount: price.Amount, Currency: price.Currency}
}

type totalsPayload struct {
	Items     pricePayload `json:"items"`
	Discounts pricePayload `json:"discounts"`
	Delivery  pricePayload `json:"delivery"`
	Payment   pricePayload `json:"payment"`
	Taxes     pricePayload `json:"taxes"`
	Net       pricePayload `json:"net"`
	Total     pricePayload `json:"total"`
}

func buildTotalsPayload(sheet pricing.Sheet) totalsPayload {
	total := func(category domain.PricingCategory) pricePayload {
		return buildPricePayload(sheet.Total(pricing.TotalOptions{Category: category}))
	}
	return totalsPayload{
		Items:     total(domain.PricingCategoryItems),
		Discounts: total(domain.PricingCategoryDiscounts),
		Delivery:  total(domain.PricingCategoryDelivery),
		Payment:   total(domain.PricingCategoryPayment),
		Taxes:     total(domain.PricingCategoryTaxes),
		Net:       buildPricePayload(sheet.Total(pricing.TotalOptions{UseNetPrice: true})),
		Total:     buildPricePayload(sheet.Total(pricing.TotalOptions{})),
	}
}

type configurationPayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func configurationFromPayload(entries []configurationPayload) []services.ConfigurationEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]services.ConfigurationEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, services.ConfigurationEntry{Key: entry.Key, Value: entry.Value})
	}
	return out
}

type positionPayload struct {
	ID                string                 `json:"id"`
	ProductID         string                 `json:"product_id"`
	OriginalProductID *string                `json:"original_product_id,omitempty"`
	QuotationID       *string                `json:"quotation_id,omitempty"`
	Quantity          int                    `json:"quantity"`
	Configuration     []configurationPayload `json:"configuration,omitempty"`
	Total             *pricePayload          `json:"total,omitempty"`
}

func buildPositionPayload(position services.OrderPosition, currency string) positionPayload {
	payload := positionPayload{
		ID:                position.ID,
		ProductID:         position.ProductID,
		OriginalProductID: position.OriginalProductID,
		QuotationID:       position.QuotationID,
		Quantity:          position.Quantity,
	}
	for _, entry := range position.Configuration {
		payload.Configuration = append(payload.Configuration, configurationPayload{Key: entry.Key, Value: entry.Value})
	}
	if len(position.Calculation) > 0 {
		total := buildPricePayload(pricing.NewSheet(currency, position.Calculation).Total(pricing.TotalOptions{}))
		payload.Total = &total
	}
	return payload
}

type discountPayload struct {
	ID          string        `json:"id"`
	DiscountKey string        `json:"discount_key"`
	Trigger     string        `json:"trigger"`
	Code        string        `json:"code,omitempty"`
	Amount      *pricePayload `json:"amount,omitempty"`
}

func buildDiscountPayload(discount services.OrderDiscount) discountPayload {
	return discountPayload{
		ID:          discount.ID,
		DiscountKey: discount.DiscountKey,
		Trigger:     string(discount.Trigger),
		Code:        discount.Code,
	}
}

type paymentPayload struct {
	ID            string         `json:"id"`
	Provider      string         `json:"provider"`
	Status        string         `json:"status"`
	TransactionID string         `json:"transaction_id,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	Paid          *string        `json:"paid_at,omitempty"`
}

func buildPaymentPayload(payment *services.OrderPayment) *paymentPayload {
	if payment == nil {
		return nil
	}
	return &paymentPayload{
		ID:            payment.ID,
		Provider:      payment.PaymentProviderID,
		Status:        string(payment.CurrentStatus()),
		TransactionID: payment.TransactionID,
		Context:       payment.Context,
		Paid:          formatTimePtr(payment.Paid),
	}
}

type deliveryPayload struct {
	ID        string         `json:"id"`
	Provider  string         `json:"provider"`
	Status    string         `json:"status"`
	Context   map[string]any `json:"context,omitempty"`
	Delivered *string        `json:"delivered_at,omitempty"`
}

func buildDeliveryPayload(delivery *services.OrderDelivery) *deliveryPayload {
	if delivery == nil {
		return nil
	}
	return &deliveryPayload{
		ID:        delivery.ID,
		Provider:  delivery.DeliveryProviderID,
		Status:    string(delivery.CurrentStatus()),
		Context:   delivery.Context,
		Delivered: formatTimePtr(delivery.Delivered),
	}
}

type orderPayload struct {
	ID                string            `json:"id"`
	OrderNumber       string            `json:"order_number,omitempty"`
	Status            string            `json:"status"`
	Currency          string            `json:"currency"`
	Country           string            `json:"country"`
	Contact           *contactPayload   `json:"contact,omitempty"`
	BillingAddress    *addressPayload   `json:"billing_address,omitempty"`
	Context           map[string]any    `json:"context,omitempty"`
	ConfirmedManually bool              `json:"confirmed_manually,omitempty"`
	Items             []positionPayload `json:"items"`
	Discounts         []discountPayload `json:"discounts"`
	Payment           *paymentPayload   `json:"payment,omitempty"`
	Delivery          *deliveryPayload  `json:"delivery,omitempty"`
	Totals            *totalsPayload    `json:"totals,omitempty"`
	PaymentProviders  []string          `json:"payment_providers,omitempty"`
	DeliveryProviders []string          `json:"delivery_providers,omitempty"`
	Ordered           *string           `json:"ordered_at,omitempty"`
	Confirmed         *string           `json:"confirmed_at,omitempty"`
	Fulfilled         *string           `json:"fulfilled_at,omitempty"`
	CreatedAt         string            `json:"created_at"`
	UpdatedAt         string            `json:"updated_at"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		Status:            string(order.Status.Normalize()),
		Currency:          order.Currency,
		Country:           order.Country,
		BillingAddress:    buildAddressPayload(order.BillingAddress),
		Context:           order.Context,
		ConfirmedManually: order.ConfirmedManually,
		Items:             []positionPayload{},
		Discounts:         []discountPayload{},
		Ordered:           formatTimePtr(order.Ordered),
		Confirmed:         formatTimePtr(order.Confirmed),
		Fulfilled:         formatTimePtr(order.Fulfilled),
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
	}
	if order.Contact != nil {
		payload.Contact = &contactPayload{Email: order.Contact.EmailAddress, Tel: order.Contact.TelNumber}
	}
	if len(order.Calculation) > 0 {
		totals := buildTotalsPayload(pricing.NewSheet(order.Currency, order.Calculation))
		payload.Totals = &totals
	}
	return payload
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func formatTimePtr(ts *time.Time) *string {
	if ts == nil || ts.IsZero() {
		return nil
	}
	value := formatTime(*ts)
	return &value
}
