package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/delivery"
	"github.com/hanko-field/commerce/internal/payments"
	"github.com/hanko-field/commerce/internal/pricing"
	"github.com/hanko-field/commerce/internal/pricing/rules"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/warehousing"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix    = "ord_"
	positionIDPrefix = "pos_"

	defaultOrderNumberPrefix   = "HC"
	defaultConfirmationRetries = 5
)

var tracer = otel.Tracer("github.com/hanko-field/commerce/internal/services")

// CheckoutSettings toggles the automatic status promotion of orders.
type CheckoutSettings struct {
	AutoConfirm         bool
	AutoFulfill         bool
	OrderNumberPrefix   string
	ConfirmationRetries int
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Positions     repositories.OrderPositionRepository
	Discounts     repositories.OrderDiscountRepository
	Payments      repositories.OrderPaymentRepository
	Deliveries    repositories.OrderDeliveryRepository
	Products      repositories.ProductRepository
	Quotations    repositories.QuotationRepository
	Users         repositories.UserRepository
	Counters      repositories.CounterRepository
	UnitOfWork    repositories.UnitOfWork
	DiscountFlow  DiscountService
	PaymentFlow   PaymentService
	DeliveryFlow  DeliveryService
	Pricing       rules.Directors
	PaymentReg    *payments.Registry
	DeliveryReg   *delivery.Registry
	Warehousing   *warehousing.Registry
	Documents     DocumentGenerator
	Subscriptions SubscriptionGenerator
	WorkQueue     WorkQueue
	Countries     CountryDirectory
	Settings      CheckoutSettings
	// Transitions counts persisted status changes by target status.
	Transitions metric.Int64Counter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders        repositories.OrderRepository
	positions     repositories.OrderPositionRepository
	discountRepo  repositories.OrderDiscountRepository
	payments      repositories.OrderPaymentRepository
	deliveries    repositories.OrderDeliveryRepository
	products      repositories.ProductRepository
	quotations    repositories.QuotationRepository
	users         repositories.UserRepository
	counters      repositories.CounterRepository
	unitOfWork    repositories.UnitOfWork
	discounts     DiscountService
	paymentFlow   PaymentService
	deliveryFlow  DeliveryService
	pricing       rules.Directors
	paymentReg    *payments.Registry
	deliveryReg   *delivery.Registry
	warehousing   *warehousing.Registry
	documents     DocumentGenerator
	subscriptions SubscriptionGenerator
	queue         WorkQueue
	countries     CountryDirectory
	settings      CheckoutSettings
	transitions   metric.Int64Counter
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Positions == nil:
		return nil, errors.New("order service: position repository is required")
	case deps.Discounts == nil:
		return nil, errors.New("order service: discount repository is required")
	case deps.Payments == nil || deps.Deliveries == nil:
		return nil, errors.New("order service: payment and delivery repositories are required")
	case deps.Products == nil || deps.Quotations == nil:
		return nil, errors.New("order service: catalog repositories are required")
	case deps.Users == nil:
		return nil, errors.New("order service: user repository is required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter repository is required")
	case deps.DiscountFlow == nil:
		return nil, errors.New("order service: discount service is required")
	case deps.PaymentFlow == nil || deps.DeliveryFlow == nil:
		return nil, errors.New("order service: payment and delivery services are required")
	case deps.Pricing.Item == nil || deps.Pricing.Delivery == nil || deps.Pricing.Payment == nil || deps.Pricing.Order == nil:
		return nil, errors.New("order service: pricing directors are required")
	case deps.PaymentReg == nil || deps.DeliveryReg == nil:
		return nil, errors.New("order service: provider registries are required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	settings := deps.Settings
	if strings.TrimSpace(settings.OrderNumberPrefix) == "" {
		settings.OrderNumberPrefix = defaultOrderNumberPrefix
	}
	if settings.ConfirmationRetries <= 0 {
		settings.ConfirmationRetries = defaultConfirmationRetries
	}

	return &orderService{
		orders:        deps.Orders,
		positions:     deps.Positions,
		discountRepo:  deps.Discounts,
		payments:      deps.Payments,
		deliveries:    deps.Deliveries,
		products:      deps.Products,
		quotations:    deps.Quotations,
		users:         deps.Users,
		counters:      deps.Counters,
		unitOfWork:    unit,
		discounts:     deps.DiscountFlow,
		paymentFlow:   deps.PaymentFlow,
		deliveryFlow:  deps.DeliveryFlow,
		pricing:       deps.Pricing,
		paymentReg:    deps.PaymentReg,
		deliveryReg:   deps.DeliveryReg,
		warehousing:   deps.Warehousing,
		documents:     deps.Documents,
		subscriptions: deps.Subscriptions,
		queue:         deps.WorkQueue,
		countries:     deps.Countries,
		settings:      settings,
		transitions:   deps.Transitions,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// CreateOrder returns the user's open cart for the country, creating it when missing. New
// carts start with the user's last billing data and the default providers.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil && !repositories.IsNotFound(err) {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	country := strings.TrimSpace(cmd.Country)
	switch {
	case country != "":
		country = s.countries.NormalizeCountry(country)
	case user.Country != "":
		country = s.countries.NormalizeCountry(user.Country)
	default:
		country = s.countries.CountryForLocale(user.Locale)
	}

	existing, err := s.orders.FindOpenByUser(ctx, userID, country)
	if err == nil {
		return existing, nil
	}
	if !repositories.IsNotFound(err) {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.countries.CurrencyForCountry(country)
	}

	now := s.now()
	order := Order{
		ID:             s.nextOrderID(),
		UserID:         userID,
		Status:         domain.OrderStatusOpen,
		Currency:       currency,
		Country:        country,
		BillingAddress: cloneAddress(user.LastBillingAddress),
		Contact:        cloneContact(user.LastContact),
		Context:        map[string]any{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":  order.ID,
		"userId":   userID,
		"country":  country,
		"currency": currency,
	})

	if provider, ok := s.paymentReg.Default(ctx, order); ok {
		payment, err := s.paymentFlow.Select(ctx, order, provider.Key())
		if err != nil {
			return Order{}, err
		}
		order.PaymentID = payment.ID
	}
	if supported := s.deliveryReg.Supported(ctx, order); len(supported) > 0 {
		delivery, err := s.deliveryFlow.Select(ctx, order, supported[0].Key())
		if err != nil {
			return Order{}, err
		}
		order.DeliveryID = delivery.ID
	}
	if order.PaymentID != "" || order.DeliveryID != "" {
		if err := s.orders.Update(ctx, order); err != nil {
			return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
	}

	return s.recalculate(ctx, order)
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return s.loadOrder(ctx, orderID)
}

// DeleteOrder removes a cart with its positions and discounts. Payments and deliveries stay.
func (s *orderService) DeleteOrder(ctx context.Context, orderID string) error {
	order, err := s.loadCart(ctx, orderID)
	if err != nil {
		return err
	}
	attached, err := s.discountRepo.ListByOrder(ctx, order.ID)
	if err != nil {
		return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	for _, discount := range attached {
		if err := s.discounts.RemoveDiscount(ctx, order, discount.ID); err != nil && !errors.Is(err, ErrDiscountNotFound) {
			return err
		}
	}
	positions, err := s.positions.ListByOrder(ctx, order.ID)
	if err != nil {
		return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return s.runInTx(ctx, func(ctx context.Context) error {
		for _, position := range positions {
			if err := s.positions.Delete(ctx, position.ID); err != nil && !repositories.IsNotFound(err) {
				return mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
			}
		}
		return mapRepositoryError(s.orders.Delete(ctx, order.ID), ErrOrderNotFound, ErrOrderConflict)
	})
}

// AddProductItem adds a product to the cart, merging into a position with the same product
// and configuration.
func (s *orderService) AddProductItem(ctx context.Context, cmd AddProductItemCommand) (OrderPosition, error) {
	if cmd.Quantity < 1 {
		return OrderPosition{}, fmt.Errorf("%w: quantity must be at least 1", ErrOrderInvalidInput)
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return OrderPosition{}, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
	}
	order, err := s.loadCart(ctx, cmd.OrderID)
	if err != nil {
		return OrderPosition{}, err
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return OrderPosition{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if product.Status != domain.ProductStatusActive {
		return OrderPosition{}, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidInput, product.ID)
	}
	if _, ok := product.PriceFor(order.Currency, order.Country); !ok {
		return OrderPosition{}, fmt.Errorf("%w: product %s has no %s price", ErrOrderInvalidInput, product.ID, order.Currency)
	}

	positions, err := s.positions.ListByOrder(ctx, order.ID)
	if err != nil {
		return OrderPosition{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}

	now := s.now()
	var position OrderPosition
	merged := false
	for _, existing := range positions {
		if existing.ProductID == product.ID && existing.QuotationID == nil && sameConfiguration(existing.Configuration, cmd.Configuration) {
			existing.Quantity += cmd.Quantity
			existing.UpdatedAt = now
			if err := s.positions.Update(ctx, existing); err != nil {
				return OrderPosition{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
			}
			position = existing
			merged = true
			break
		}
	}
	if !merged {
		position = OrderPosition{
			ID:                positionIDPrefix + s.newID(),
			OrderID:           order.ID,
			ProductID:         product.ID,
			OriginalProductID: optionalString(cmd.OriginalProductID),
			Quantity:          cmd.Quantity,
			Configuration:     slices.Clone(cmd.Configuration),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.positions.Insert(ctx, position); err != nil {
			return OrderPosition{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
	}

	if _, err := s.recalculate(ctx, order); err != nil {
		return OrderPosition{}, err
	}
	return s.loadPosition(ctx, position.ID)
}

// AddQuotationItem adds a proposed quotation at its negotiated price.
func (s *orderService) AddQuotationItem(ctx context.Context, cmd AddQuotationItemCommand) (OrderPosition, error) {
	quotationID := strings.TrimSpace(cmd.QuotationID)
	if quotationID == "" {
		return OrderPosition{}, fmt.Errorf("%w: quotation id is required", ErrOrderInvalidInput)
	}
	order, err := s.loadCart(ctx, cmd.OrderID)
	if err != nil {
		return OrderPosition{}, err
	}
	quotation, err := s.quotations.FindByID(ctx, quotationID)
	if err != nil {
		return OrderPosition{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if err := s.checkQuotation(order, quotation); err != nil {
		return OrderPosition{}, err
	}

	positions, err := s.positions.ListByOrder(ctx, order.ID)
	if err != nil {
		return OrderPosition{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	for _, existing := range positions {
		if existing.QuotationID != nil && *existing.QuotationID == quotation.ID {
			return existing, nil
		}
	}

	configuration := cmd.Configuration
	if len(configuration) == 0 {
		configuration = quotation.Configuration
	}
	now := s.now()
	position := OrderPosition{
		ID:            positionIDPrefix + s.newID(),
		OrderID:       order.ID,
		ProductID:     quotation.ProductID,
		QuotationID:   &quotation.ID,
		Quantity:      1,
		Configuration: slices.Clone(configuration),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.positions.Insert(ctx, position); err != nil {
		return OrderPosition{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if _, err := s.recalculate(ctx, order); err != nil {
		return OrderPosition{}, err
	}
	return s.loadPosition(ctx, position.ID)
}

func (s *orderService) checkQuotation(order Order, quotation domain.Quotation) error {
	switch {
	case quotation.UserID != "" && quotation.UserID != order.UserID:
		return fmt.Errorf("%w: quotation %s belongs to another user", ErrOrderNotFound, quotation.ID)
	case quotation.Status != domain.QuotationStatusProposed:
		return fmt.Errorf("%w: quotation %s is %s", ErrOrderInvalidState, quotation.ID, quotation.Status)
	case quotation.ExpiresAt != nil && !quotation.ExpiresAt.After(s.now()):
		return fmt.Errorf("%w: quotation %s expired", ErrOrderInvalidState, quotation.ID)
	case quotation.Currency != order.Currency:
		return fmt.Errorf("%w: quotation %s is priced in %s", ErrOrderInvalidInput, quotation.ID, quotation.Currency)
	}
	return nil
}

// UpdateItemQuantity sets the quantity of a position. Zero deletes it.
func (s *orderService) UpdateItemQuantity(ctx context.Context, cmd UpdateItemQuantityCommand) (Order, error) {
	if cmd.Quantity < 0 {
		return Order{}, fmt.Errorf("%w: quantity must not be negative", ErrOrderInvalidInput)
	}
	order, err := s.loadCart(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	position, err := s.loadPosition(ctx, cmd.PositionID)
	if err != nil {
		return Order{}, err
	}
	if position.OrderID != order.ID {
		return Order{}, fmt.Errorf("%w: position %s is not part of order %s", ErrOrderNotFound, position.ID, order.ID)
	}

	if cmd.Quantity == 0 {
		if err := s.positions.Delete(ctx, position.ID); err != nil {
			return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
	} else {
		position.Quantity = cmd.Quantity
		position.UpdatedAt = s.now()
		if err := s.positions.Update(ctx, position); err != nil {
			return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
	}
	return s.recalculate(ctx, order)
}

// SetDeliveryProvider selects the delivery of the provider, creating it on first use.
func (s *orderService) SetDeliveryProvider(ctx context.Context, cmd SelectProviderCommand) (OrderDelivery, error) {
	order, err := s.loadCart(ctx, cmd.OrderID)
	if err != nil {
		return OrderDelivery{}, err
	}
	key := strings.ToLower(strings.TrimSpace(cmd.ProviderID))
	if !slices.ContainsFunc(s.deliveryReg.Supported(ctx, order), func(p delivery.Provider) bool { return p.Key() == key }) {
		return OrderDelivery{}, fmt.Errorf("%w: delivery provider %q is not supported for this order", ErrOrderInvalidInput, cmd.ProviderID)
	}
	selected, err := s.deliveryFlow.Select(ctx, order, key)
	if err != nil {
		return OrderDelivery{}, err
	}
	if order.DeliveryID != selected.ID {
		order.DeliveryID = selected.ID
		order.UpdatedAt = s.now()
		if err := s.orders.Update(ctx, order); err != nil {
			return OrderDelivery{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
	}
	if _, err := s.recalculate(ctx, order); err != nil {
		return OrderDelivery{}, err
	}
	return s.loadDelivery(ctx, selected.ID)
}

// SetPaymentProvider selects the payment of the provider, creating it on first use.
func (s *orderService) SetPaymentProvider(ctx context.Context, cmd SelectProviderCommand) (OrderPayment, error) {
	order, err := s.loadCart(ctx, cmd.OrderID)
	if err != nil {
		return OrderPayment{}, err
	}
	key := strings.ToLower(strings.TrimSpace(cmd.ProviderID))
	if !slices.ContainsFunc(s.paymentReg.Supported(ctx, order), func(p payments.Provider) bool { return p.Key() == key }) {
		return OrderPayment{}, fmt.Errorf("%w: payment provider %q is not supported for this order", ErrOrderInvalidInput, cmd.ProviderID)
	}
	selected, err := s.paymentFlow.Select(ctx, order, key)
	if err != nil {
		return OrderPayment{}, err
	}
	if order.PaymentID != selected.ID {
		order.PaymentID = selected.ID
		order.UpdatedAt = s.now()
		if err := s.orders.Update(ctx, order); err != nil {
			return OrderPayment{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
		}
	}
	if _, err := s.recalculate(ctx, order); err != nil {
		return OrderPayment{}, err
	}
	return s.loadPayment(ctx, selected.ID)
}

func (s *orderService) UpdateContact(ctx context.Context, cmd UpdateContactCommand) (Order, error) {
	contact := Contact{
		EmailAddress: strings.TrimSpace(cmd.Contact.EmailAddress),
		TelNumber:    strings.TrimSpace(cmd.Contact.TelNumber),
	}
	if contact.EmailAddress == "" && contact.TelNumber == "" {
		return Order{}, fmt.Errorf("%w: contact requires an email address or telephone number", ErrOrderInvalidInput)
	}
	if contact.EmailAddress != "" && !strings.Contains(contact.EmailAddress, "@") {
		return Order{}, fmt.Errorf("%w: email address is invalid", ErrOrderInvalidInput)
	}
	return s.mutateCart(ctx, cmd.OrderID, func(order *Order) {
		order.Contact = &contact
	})
}

func (s *orderService) UpdateBillingAddress(ctx context.Context, cmd UpdateBillingAddressCommand) (Order, error) {
	address := cmd.Address
	address.Recipient = strings.TrimSpace(address.Recipient)
	address.Line1 = strings.TrimSpace(address.Line1)
	address.City = strings.TrimSpace(address.City)
	address.PostalCode = strings.TrimSpace(address.PostalCode)
	address.Country = strings.ToUpper(strings.TrimSpace(address.Country))
	var missing []string
	for field, value := range map[string]string{
		"recipient":  address.Recipient,
		"line1":      address.Line1,
		"city":       address.City,
		"postalCode": address.PostalCode,
		"country":    address.Country,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return Order{}, fmt.Errorf("%w: billing address is missing %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	return s.mutateCart(ctx, cmd.OrderID, func(order *Order) {
		order.BillingAddress = &address
	})
}

func (s *orderService) UpdateContext(ctx context.Context, cmd UpdateContextCommand) (Order, error) {
	return s.mutateCart(ctx, cmd.OrderID, func(order *Order) {
		order.Context = mergeContext(order.Context, cmd.Values)
	})
}

func (s *orderService) UpdateDeliveryContext(ctx context.Context, cmd UpdateContextCommand) (OrderDelivery, error) {
	order, err := s.loadCart(ctx, cmd.OrderID)
	if err != nil {
		return OrderDelivery{}, err
	}
	if order.DeliveryID == "" {
		return OrderDelivery{}, fmt.Errorf("%w: no delivery provider selected", ErrOrderInvalidState)
	}
	updated, err := s.deliveryFlow.UpdateContext(ctx, order.DeliveryID, cmd.Values)
	if err != nil {
		return OrderDelivery{}, err
	}
	if _, err := s.recalculate(ctx, order); err != nil {
		return OrderDelivery{}, err
	}
	return updated, nil
}

// AddDiscount redeems a code on the cart and recalculates it.
func (s *orderService) AddDiscount(ctx context.Context, cmd AddDiscountCommand) (OrderDiscount, error) {
	order, err := s.loadCart(ctx, cmd.OrderID)
	if err != nil {
		return OrderDiscount{}, err
	}
	discount, err := s.discounts.CreateManualOrderDiscount(ctx, order, cmd.Code)
	if err != nil {
		return OrderDiscount{}, err
	}
	if _, err := s.recalculate(ctx, order); err != nil {
		return OrderDiscount{}, err
	}
	return discount, nil
}

func (s *orderService) RemoveDiscount(ctx context.Context, orderID string, discountID string) error {
	order, err := s.loadCart(ctx, orderID)
	if err != nil {
		return err
	}
	if err := s.discounts.RemoveDiscount(ctx, order, discountID); err != nil {
		return err
	}
	_, err = s.recalculate(ctx, order)
	return err
}

func (s *orderService) Items(ctx context.Context, orderID string) ([]OrderPosition, error) {
	if _, err := s.loadOrder(ctx, orderID); err != nil {
		return nil, err
	}
	positions, err := s.positions.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return positions, nil
}

// Delivery returns the current delivery, or nil when none is selected.
func (s *orderService) Delivery(ctx context.Context, orderID string) (*OrderDelivery, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.DeliveryID == "" {
		return nil, nil
	}
	current, err := s.loadDelivery(ctx, order.DeliveryID)
	if err != nil {
		return nil, err
	}
	return &current, nil
}

// Payment returns the current payment, or nil when none is selected.
func (s *orderService) Payment(ctx context.Context, orderID string) (*OrderPayment, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentID == "" {
		return nil, nil
	}
	current, err := s.loadPayment(ctx, order.PaymentID)
	if err != nil {
		return nil, err
	}
	return &current, nil
}

func (s *orderService) Discounts(ctx context.Context, orderID string) ([]OrderDiscount, error) {
	if _, err := s.loadOrder(ctx, orderID); err != nil {
		return nil, err
	}
	attached, err := s.discountRepo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return attached, nil
}

func (s *orderService) Pricing(ctx context.Context, orderID string) (pricing.Sheet, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return pricing.Sheet{}, err
	}
	return pricing.NewSheet(order.Currency, order.Calculation), nil
}

func (s *orderService) ItemPricing(ctx context.Context, positionID string) (pricing.Sheet, error) {
	position, err := s.loadPosition(ctx, positionID)
	if err != nil {
		return pricing.Sheet{}, err
	}
	order, err := s.loadOrder(ctx, position.OrderID)
	if err != nil {
		return pricing.Sheet{}, err
	}
	return pricing.NewSheet(order.Currency, position.Calculation), nil
}

func (s *orderService) SupportedPaymentProviders(ctx context.Context, orderID string) ([]string, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	keys := []string{}
	for _, provider := range s.paymentReg.Supported(ctx, order) {
		keys = append(keys, provider.Key())
	}
	return keys, nil
}

func (s *orderService) SupportedDeliveryProviders(ctx context.Context, orderID string) ([]string, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	keys := []string{}
	for _, provider := range s.deliveryReg.Supported(ctx, order) {
		keys = append(keys, provider.Key())
	}
	return keys, nil
}

func (s *orderService) mutateCart(ctx context.Context, orderID string, mutate func(*Order)) (Order, error) {
	order, err := s.loadCart(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	mutate(&order)
	order.UpdatedAt = s.now()
	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return s.recalculate(ctx, order)
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return order, nil
}

func (s *orderService) loadCart(ctx context.Context, orderID string) (Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !order.IsCart() {
		return Order{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.ID, order.Status)
	}
	return order, nil
}

func (s *orderService) loadPosition(ctx context.Context, positionID string) (OrderPosition, error) {
	positionID = strings.TrimSpace(positionID)
	if positionID == "" {
		return OrderPosition{}, fmt.Errorf("%w: position id is required", ErrOrderInvalidInput)
	}
	position, err := s.positions.FindByID(ctx, positionID)
	if err != nil {
		return OrderPosition{}, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	return position, nil
}

func (s *orderService) loadPayment(ctx context.Context, paymentID string) (OrderPayment, error) {
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return OrderPayment{}, mapRepositoryError(err, ErrPaymentNotFound, ErrOrderConflict)
	}
	return payment, nil
}

func (s *orderService) loadDelivery(ctx context.Context, deliveryID string) (OrderDelivery, error) {
	current, err := s.deliveries.FindByID(ctx, deliveryID)
	if err != nil {
		return OrderDelivery{}, mapRepositoryError(err, ErrDeliveryNotFound, ErrOrderConflict)
	}
	return current, nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextOrderID() string {
	return orderIDPrefix + s.newID()
}

func sameConfiguration(a, b []ConfigurationEntry) bool {
	if len(a) != len(b) {
		return false
	}
	index := make(map[string]string, len(a))
	for _, entry := range a {
		index[entry.Key] = entry.Value
	}
	for _, entry := range b {
		value, ok := index[entry.Key]
		if !ok || value != entry.Value {
			return false
		}
	}
	return true
}

func mergeContext(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	maps.Copy(out, base)
	for key, value := range extra {
		if strings.TrimSpace(key) == "" {
			continue
		}
		if value == nil {
			delete(out, key)
			continue
		}
		out[key] = value
	}
	return out
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	clone := *addr
	return &clone
}

func cloneContact(contact *Contact) *Contact {
	if contact == nil {
		return nil
	}
	clone := *contact
	return &clone
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
