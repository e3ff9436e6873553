package domain

import "time"

// OrderStatus enumerates the lifecycle states of an order. The zero value is treated as OPEN.
type OrderStatus string

const (
	// OrderStatusOpen marks a cart that still accepts mutations.
	OrderStatusOpen OrderStatus = "OPEN"
	// OrderStatusPending marks a checked out order awaiting confirmation.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed marks an order whose delivery has been dispatched.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusFulfilled marks an order that is paid and delivered.
	OrderStatusFulfilled OrderStatus = "FULFILLED"
)

var orderStatusRank = map[OrderStatus]int{
	OrderStatusOpen:      0,
	OrderStatusPending:   1,
	OrderStatusConfirmed: 2,
	OrderStatusFulfilled: 3,
}

// Normalize maps the empty status onto OPEN.
func (s OrderStatus) Normalize() OrderStatus {
	if s == "" {
		return OrderStatusOpen
	}
	return s
}

// Rank returns the position of the status in the order lattice, or -1 when unknown.
func (s OrderStatus) Rank() int {
	rank, ok := orderStatusRank[s.Normalize()]
	if !ok {
		return -1
	}
	return rank
}

// Before reports whether s precedes other in the lattice.
func (s OrderStatus) Before(other OrderStatus) bool {
	return s.Rank() < other.Rank()
}

// Order is a cart while OPEN and an order afterwards.
type Order struct {
	ID                string
	OrderNumber       string
	UserID            string
	Status            OrderStatus
	Currency          string
	Country           string
	BillingAddress    *Address
	Contact           *Contact
	Calculation       []PricingCalculation
	PaymentID         string
	DeliveryID        string
	Context           map[string]any
	ConfirmedManually bool
	Ordered           *time.Time
	Confirmed         *time.Time
	Fulfilled         *time.Time
	Log               []StatusLogEntry
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsCart reports whether the order still accepts cart mutations.
func (o Order) IsCart() bool {
	return o.Status.Normalize() == OrderStatusOpen
}

// StatusLogEntry records a single status transition.
type StatusLogEntry struct {
	Date   time.Time
	Status string
	Info   string
}

// Contact holds the buyer's contact snapshot.
type Contact struct {
	EmailAddress string
	TelNumber    string
}

// Address captures a postal address.
type Address struct {
	Recipient  string
	Company    *string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
}

// ConfigurationEntry is a key/value pair configuring a line item.
type ConfigurationEntry struct {
	Key   string
	Value string
}

// OrderPosition is a line item of an order.
type OrderPosition struct {
	ID                string
	OrderID           string
	ProductID         string
	OriginalProductID *string
	QuotationID       *string
	Quantity          int
	Configuration     []ConfigurationEntry
	Calculation       []PricingCalculation
	Scheduling        []SchedulingEntry
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SchedulingEntry stores the warehousing outcome for a position.
type SchedulingEntry struct {
	WarehousingProviderID string
	Reserved              bool
	ReservedAt            *time.Time
	Context               map[string]any
}

// DiscountTrigger explains why a discount is attached to an order.
type DiscountTrigger string

const (
	// DiscountTriggerSystem discounts are found and removed by reconciliation.
	DiscountTriggerSystem DiscountTrigger = "SYSTEM"
	// DiscountTriggerUser discounts are redeemed with a code.
	DiscountTriggerUser DiscountTrigger = "USER"
)

// OrderDiscount attaches a discount adapter to an order. OrderID is nil while the
// record sits unbound in the pool of issued codes.
type OrderDiscount struct {
	ID          string
	OrderID     *string
	DiscountKey string
	Trigger     DiscountTrigger
	Code        string
	Reservation map[string]any
	Issued      bool
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BoundTo reports whether the discount is bound to the given order.
func (d OrderDiscount) BoundTo(orderID string) bool {
	return d.OrderID != nil && *d.OrderID == orderID
}

// IsUnbound reports whether the discount is free to be claimed.
func (d OrderDiscount) IsUnbound() bool {
	return d.OrderID == nil
}

// PaymentStatus enumerates the payment lifecycle. The zero value is treated as OPEN.
type PaymentStatus string

const (
	PaymentStatusOpen     PaymentStatus = "OPEN"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// OrderPayment is the payment sub-entity of an order for one provider.
type OrderPayment struct {
	ID                string
	OrderID           string
	PaymentProviderID string
	Status            PaymentStatus
	Context           map[string]any
	TransactionID     string
	Calculation       []PricingCalculation
	Paid              *time.Time
	Log               []StatusLogEntry
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CurrentStatus returns the status with the nullable-open convention applied.
func (p OrderPayment) CurrentStatus() PaymentStatus {
	if p.Status == "" {
		return PaymentStatusOpen
	}
	return p.Status
}

// DeliveryStatus enumerates the delivery lifecycle. The zero value is treated as OPEN.
type DeliveryStatus string

const (
	DeliveryStatusOpen      DeliveryStatus = "OPEN"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusReturned  DeliveryStatus = "RETURNED"
)

// OrderDelivery is the delivery sub-entity of an order for one provider.
type OrderDelivery struct {
	ID                 string
	OrderID            string
	DeliveryProviderID string
	Status             DeliveryStatus
	Context            map[string]any
	Calculation        []PricingCalculation
	Delivered          *time.Time
	Log                []StatusLogEntry
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// CurrentStatus returns the status with the nullable-open convention applied.
func (d OrderDelivery) CurrentStatus() DeliveryStatus {
	if d.Status == "" {
		return DeliveryStatusOpen
	}
	return d.Status
}
