package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	OrderPosition      = domain.OrderPosition
	OrderDiscount      = domain.OrderDiscount
	OrderPayment       = domain.OrderPayment
	OrderDelivery      = domain.OrderDelivery
	Address            = domain.Address
	Contact            = domain.Contact
	ConfigurationEntry = domain.ConfigurationEntry
	Subscription       = domain.Subscription
	OrderDocument      = domain.OrderDocument
	Product            = domain.Product
	User               = domain.User
)

// OrderService exposes the cart, pricing and checkout operations of an order.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	DeleteOrder(ctx context.Context, orderID string) error

	AddProductItem(ctx context.Context, cmd AddProductItemCommand) (OrderPosition, error)
	AddQuotationItem(ctx context.Context, cmd AddQuotationItemCommand) (OrderPosition, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateItemQuantityCommand) (Order, error)

	SetDeliveryProvider(ctx context.Context, cmd SelectProviderCommand) (OrderDelivery, error)
	SetPaymentProvider(ctx context.Context, cmd SelectProviderCommand) (OrderPayment, error)
	UpdateContact(ctx context.Context, cmd UpdateContactCommand) (Order, error)
	UpdateBillingAddress(ctx context.Context, cmd UpdateBillingAddressCommand) (Order, error)
	UpdateContext(ctx context.Context, cmd UpdateContextCommand) (Order, error)
	UpdateDeliveryContext(ctx context.Context, cmd UpdateContextCommand) (OrderDelivery, error)

	AddDiscount(ctx context.Context, cmd AddDiscountCommand) (OrderDiscount, error)
	RemoveDiscount(ctx context.Context, orderID string, discountID string) error

	UpdateCalculation(ctx context.Context, orderID string) (Order, error)
	NextStatus(ctx context.Context, orderID string) (OrderStatus, error)
	ProcessOrder(ctx context.Context, orderID string) (Order, error)
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
	Confirm(ctx context.Context, cmd CheckoutCommand) (Order, error)

	Items(ctx context.Context, orderID string) ([]OrderPosition, error)
	Delivery(ctx context.Context, orderID string) (*OrderDelivery, error)
	Payment(ctx context.Context, orderID string) (*OrderPayment, error)
	Discounts(ctx context.Context, orderID string) ([]OrderDiscount, error)
	Pricing(ctx context.Context, orderID string) (pricing.Sheet, error)
	ItemPricing(ctx context.Context, positionID string) (pricing.Sheet, error)
	SupportedPaymentProviders(ctx context.Context, orderID string) ([]string, error)
	SupportedDeliveryProviders(ctx context.Context, orderID string) ([]string, error)
}

// DiscountService owns the lifecycle of order discounts.
type DiscountService interface {
	// CreateManualOrderDiscount attaches a code to the order using the grab protocol.
	CreateManualOrderDiscount(ctx context.Context, order Order, code string) (OrderDiscount, error)
	// UpdateDiscounts drops invalid discounts and attaches newly applicable system discounts.
	UpdateDiscounts(ctx context.Context, order Order) ([]OrderDiscount, error)
	RemoveDiscount(ctx context.Context, order Order, discountID string) error
	IssueCode(ctx context.Context, cmd IssueDiscountCodeCommand) (OrderDiscount, error)
	// Resolver hands the applicable discount configurations to the pricing directors.
	Resolver(order Order, discounts []OrderDiscount) pricing.DiscountResolver
}

// PaymentService manages the payment sub-entities of orders.
type PaymentService interface {
	Select(ctx context.Context, order Order, providerID string) (OrderPayment, error)
	UpdateContext(ctx context.Context, paymentID string, values map[string]any) (OrderPayment, error)
	Charge(ctx context.Context, order Order, paymentID string) (OrderPayment, error)
	MarkPaid(ctx context.Context, cmd PaymentStatusCommand) (OrderPayment, error)
	MarkRefunded(ctx context.Context, cmd PaymentStatusCommand) (OrderPayment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (OrderPayment, error)
	BlocksConfirmation(ctx context.Context, order Order, payment OrderPayment) bool
	BlocksFulfillment(ctx context.Context, order Order, payment OrderPayment) bool
}

// DeliveryService manages the delivery sub-entities of orders.
type DeliveryService interface {
	Select(ctx context.Context, order Order, providerID string) (OrderDelivery, error)
	UpdateContext(ctx context.Context, deliveryID string, values map[string]any) (OrderDelivery, error)
	Send(ctx context.Context, order Order, deliveryID string, positions []OrderPosition) (OrderDelivery, error)
	MarkDelivered(ctx context.Context, cmd DeliveryStatusCommand) (OrderDelivery, error)
	MarkReturned(ctx context.Context, cmd DeliveryStatusCommand) (OrderDelivery, error)
	BlocksConfirmation(ctx context.Context, order Order, delivery OrderDelivery) bool
	BlocksFulfillment(ctx context.Context, order Order, delivery OrderDelivery) bool
}

// WorkQueue accepts fire-and-forget background jobs.
type WorkQueue interface {
	Enqueue(ctx context.Context, job WorkQueueJob) (string, error)
}

// WorkQueueJob is one background job. The queue owns retries and scheduling.
type WorkQueueJob struct {
	Type            string         `json:"type"`
	Input           map[string]any `json:"input"`
	Retries         int            `json:"retries"`
	ScheduleAt      *time.Time     `json:"scheduleAt,omitempty"`
	OriginalOrderID string         `json:"originalOrderId,omitempty"`
}

// DocumentGenerator renders the documents belonging to a status transition.
type DocumentGenerator interface {
	Generate(ctx context.Context, req DocumentRequest) ([]OrderDocument, error)
}

// DocumentRequest is the order snapshot at a status transition.
type DocumentRequest struct {
	Order     Order
	Positions []OrderPosition
	Payment   *OrderPayment
	Delivery  *OrderDelivery
	Status    OrderStatus
	Date      time.Time
}

// SubscriptionGenerator spawns subscriptions for confirmed items that carry a plan.
type SubscriptionGenerator interface {
	Generate(ctx context.Context, order Order, items []SubscriptionItem) ([]Subscription, error)
}

// SubscriptionItem pairs a position with its product.
type SubscriptionItem struct {
	Position OrderPosition
	Product  Product
}

// CreateOrderCommand opens a cart. Currency and country fall back to the user's locale.
type CreateOrderCommand struct {
	UserID   string
	Currency string
	Country  string
}

// AddProductItemCommand adds a product to a cart.
type AddProductItemCommand struct {
	OrderID           string
	ProductID         string
	OriginalProductID string
	Quantity          int
	Configuration     []ConfigurationEntry
}

// AddQuotationItemCommand adds an accepted quotation to a cart.
type AddQuotationItemCommand struct {
	OrderID       string
	QuotationID   string
	Configuration []ConfigurationEntry
}

// UpdateItemQuantityCommand sets a position quantity. Zero removes the position.
type UpdateItemQuantityCommand struct {
	OrderID    string
	PositionID string
	Quantity   int
}

// SelectProviderCommand selects a delivery or payment provider.
type SelectProviderCommand struct {
	OrderID    string
	ProviderID string
}

type UpdateContactCommand struct {
	OrderID string
	Contact Contact
}

type UpdateBillingAddressCommand struct {
	OrderID string
	Address Address
}

// UpdateContextCommand merges free-form values into an order or delivery context.
type UpdateContextCommand struct {
	OrderID string
	Values  map[string]any
}

type AddDiscountCommand struct {
	OrderID string
	Code    string
}

// IssueDiscountCodeCommand pre-issues a single-use code for a discount adapter.
type IssueDiscountCodeCommand struct {
	Code        string
	DiscountKey string
}

// CheckoutCommand carries the context collected on the checkout page.
type CheckoutCommand struct {
	OrderID         string
	ActorID         string
	OrderContext    map[string]any
	PaymentContext  map[string]any
	DeliveryContext map[string]any
}

// PaymentStatusCommand records a PSP driven payment status change.
type PaymentStatusCommand struct {
	PaymentID     string
	TransactionID string
	Info          map[string]any
}

// DeliveryStatusCommand records a carrier driven delivery status change.
type DeliveryStatusCommand struct {
	DeliveryID string
	Info       map[string]any
}
