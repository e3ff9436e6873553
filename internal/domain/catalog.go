package domain

import "time"

// ProductStatus enumerates catalog visibility.
type ProductStatus string

const (
	ProductStatusActive ProductStatus = "ACTIVE"
	ProductStatusDraft  ProductStatus = "DRAFT"
)

// Product is the catalog entry a position references.
type Product struct {
	ID               string
	SKU              string
	Title            string
	Status           ProductStatus
	Prices           []ProductPrice
	TaxCategory      string
	SubscriptionPlan *SubscriptionPlan
	Tracked          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProductPrice is a list price for a currency, optionally restricted to a country.
type ProductPrice struct {
	Currency   string
	Country    string
	Amount     int64
	IsNetPrice bool
	IsTaxable  bool
}

// PriceFor returns the best matching price: country specific first, then currency only.
func (p Product) PriceFor(currency, country string) (ProductPrice, bool) {
	var fallback *ProductPrice
	for i := range p.Prices {
		price := p.Prices[i]
		if price.Currency != currency {
			continue
		}
		if price.Country == country {
			return price, true
		}
		if price.Country == "" && fallback == nil {
			fallback = &p.Prices[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return ProductPrice{}, false
}

// SubscriptionInterval enumerates plan periods.
type SubscriptionInterval string

const (
	SubscriptionIntervalDay   SubscriptionInterval = "DAYS"
	SubscriptionIntervalWeek  SubscriptionInterval = "WEEKS"
	SubscriptionIntervalMonth SubscriptionInterval = "MONTHS"
	SubscriptionIntervalYear  SubscriptionInterval = "YEARS"
)

// SubscriptionPlan marks a product as spawning subscriptions on confirmation.
type SubscriptionPlan struct {
	Interval      SubscriptionInterval
	IntervalCount int
	TrialDays     int
}

// QuotationStatus enumerates quotation lifecycle states.
type QuotationStatus string

const (
	QuotationStatusProposed  QuotationStatus = "PROPOSED"
	QuotationStatusFulfilled QuotationStatus = "FULFILLED"
	QuotationStatusRejected  QuotationStatus = "REJECTED"
)

// Quotation is a negotiated fixed price offer for a product.
type Quotation struct {
	ID            string
	UserID        string
	ProductID     string
	Status        QuotationStatus
	Amount        int64
	Currency      string
	Configuration []ConfigurationEntry
	ExpiresAt     *time.Time
	CreatedAt     time.Time
}

// Subscription is spawned from a subscription-plan position on confirmation.
type Subscription struct {
	ID          string
	UserID      string
	OrderID     string
	PositionID  string
	ProductID   string
	Quantity    int
	Status      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	TrialEnd    *time.Time
	CreatedAt   time.Time
}

// StockLevel tracks on-hand quantity for a SKU.
type StockLevel struct {
	SKU       string
	OnHand    int
	Committed int
	UpdatedAt time.Time
}

// Available is the quantity not yet committed to orders.
func (s StockLevel) Available() int {
	return s.OnHand - s.Committed
}

// User is the subset of the user profile the checkout relies on.
type User struct {
	ID                 string
	Locale             string
	Country            string
	LastBillingAddress *Address
	LastContact        *Contact
	UpdatedAt          time.Time
}

// OrderDocument references a rendered document stored for an order.
type OrderDocument struct {
	ID        string
	OrderID   string
	Type      string
	Path      string
	CreatedAt time.Time
}
