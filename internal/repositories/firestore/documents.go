package firestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
)

const (
	ordersCollection        = "orders"
	positionsCollection     = "orderPositions"
	discountsCollection     = "orderDiscounts"
	paymentsCollection      = "orderPayments"
	deliveriesCollection    = "orderDeliveries"
	productsCollection      = "products"
	quotationsCollection    = "quotations"
	usersCollection         = "users"
	stockCollection         = "stock"
	redemptionsCollection   = "couponRedemptions"
	subscriptionsCollection = "subscriptions"
	documentsCollection     = "orderDocuments"
	countersCollection      = "counters"
)

// Amounts are persisted as decimal strings; Firestore cannot encode decimal.Decimal.
type calculationDocument struct {
	Category   string         `firestore:"category"`
	Amount     string         `firestore:"amount"`
	Currency   string         `firestore:"currency"`
	DiscountID string         `firestore:"discountId,omitempty"`
	TaxID      string         `firestore:"taxId,omitempty"`
	AdapterKey string         `firestore:"adapterKey,omitempty"`
	Meta       map[string]any `firestore:"meta,omitempty"`
}

func fromCalculation(rows []domain.PricingCalculation) []calculationDocument {
	if len(rows) == 0 {
		return nil
	}
	out := make([]calculationDocument, 0, len(rows))
	for _, row := range rows {
		out = append(out, calculationDocument{
			Category:   string(row.Category),
			Amount:     row.Amount.String(),
			Currency:   row.Currency,
			DiscountID: row.DiscountID,
			TaxID:      row.TaxID,
			AdapterKey: row.AdapterKey,
			Meta:       row.Meta,
		})
	}
	return out
}

func toCalculation(docs []calculationDocument) ([]domain.PricingCalculation, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	out := make([]domain.PricingCalculation, 0, len(docs))
	for _, doc := range docs {
		amount, err := decimal.NewFromString(doc.Amount)
		if err != nil {
			return nil, fmt.Errorf("decode calculation amount %q: %w", doc.Amount, err)
		}
		out = append(out, domain.PricingCalculation{
			Category:   domain.PricingCategory(doc.Category),
			Amount:     amount,
			Currency:   doc.Currency,
			DiscountID: doc.DiscountID,
			TaxID:      doc.TaxID,
			AdapterKey: doc.AdapterKey,
			Meta:       doc.Meta,
		})
	}
	return out, nil
}

type logDocument struct {
	Date   time.Time `firestore:"date"`
	Status string    `firestore:"status"`
	Info   string    `firestore:"info,omitempty"`
}

func fromLog(entries []domain.StatusLogEntry) []logDocument {
	out := make([]logDocument, 0, len(entries))
	for _, entry := range entries {
		out = append(out, logDocument{Date: entry.Date, Status: entry.Status, Info: entry.Info})
	}
	return out
}

func toLog(docs []logDocument) []domain.StatusLogEntry {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.StatusLogEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.StatusLogEntry{Date: doc.Date, Status: doc.Status, Info: doc.Info})
	}
	return out
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Company    *string `firestore:"company,omitempty"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

func fromAddress(addr *domain.Address) *addressDocument {
	if addr == nil {
		return nil
	}
	return &addressDocument{
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

func (d *addressDocument) toDomain() *domain.Address {
	if d == nil {
		return nil
	}
	return &domain.Address{
		Recipient:  d.Recipient,
		Company:    d.Company,
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		State:      d.State,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
	}
}

type contactDocument struct {
	EmailAddress string `firestore:"emailAddress"`
	TelNumber    string `firestore:"telNumber,omitempty"`
}

func fromContact(c *domain.Contact) *contactDocument {
	if c == nil {
		return nil
	}
	return &contactDocument{EmailAddress: c.EmailAddress, TelNumber: c.TelNumber}
}

func (d *contactDocument) toDomain() *domain.Contact {
	if d == nil {
		return nil
	}
	return &domain.Contact{EmailAddress: d.EmailAddress, TelNumber: d.TelNumber}
}

type orderDocument struct {
	OrderNumber       string                `firestore:"orderNumber,omitempty"`
	UserID            string                `firestore:"userId"`
	Status            string                `firestore:"status"`
	Currency          string                `firestore:"currency"`
	Country           string                `firestore:"country"`
	BillingAddress    *addressDocument      `firestore:"billingAddress,omitempty"`
	Contact           *contactDocument      `firestore:"contact,omitempty"`
	Calculation       []calculationDocument `firestore:"calculation"`
	PaymentID         string                `firestore:"paymentId,omitempty"`
	DeliveryID        string                `firestore:"deliveryId,omitempty"`
	Context           map[string]any        `firestore:"context,omitempty"`
	ConfirmedManually bool                  `firestore:"confirmedManually"`
	Ordered           *time.Time            `firestore:"ordered,omitempty"`
	Confirmed         *time.Time            `firestore:"confirmed,omitempty"`
	Fulfilled         *time.Time            `firestore:"fulfilled,omitempty"`
	Log               []logDocument         `firestore:"log"`
	CreatedAt         time.Time             `firestore:"createdAt"`
	UpdatedAt         time.Time             `firestore:"updatedAt"`
}

func fromOrder(o domain.Order) orderDocument {
	return orderDocument{
		OrderNumber:       o.OrderNumber,
		UserID:            o.UserID,
		Status:            string(o.Status.Normalize()),
		Currency:          o.Currency,
		Country:           o.Country,
		BillingAddress:    fromAddress(o.BillingAddress),
		Contact:           fromContact(o.Contact),
		Calculation:       fromCalculation(o.Calculation),
		PaymentID:         o.PaymentID,
		DeliveryID:        o.DeliveryID,
		Context:           o.Context,
		ConfirmedManually: o.ConfirmedManually,
		Ordered:           o.Ordered,
		Confirmed:         o.Confirmed,
		Fulfilled:         o.Fulfilled,
		Log:               fromLog(o.Log),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	calc, err := toCalculation(d.Calculation)
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{
		ID:                id,
		OrderNumber:       d.OrderNumber,
		UserID:            d.UserID,
		Status:            domain.OrderStatus(d.Status),
		Currency:          d.Currency,
		Country:           d.Country,
		BillingAddress:    d.BillingAddress.toDomain(),
		Contact:           d.Contact.toDomain(),
		Calculation:       calc,
		PaymentID:         d.PaymentID,
		DeliveryID:        d.DeliveryID,
		Context:           d.Context,
		ConfirmedManually: d.ConfirmedManually,
		Ordered:           d.Ordered,
		Confirmed:         d.Confirmed,
		Fulfilled:         d.Fulfilled,
		Log:               toLog(d.Log),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}, nil
}

type configurationDocument struct {
	Key   string `firestore:"key"`
	Value string `firestore:"value"`
}

func fromConfiguration(entries []domain.ConfigurationEntry) []configurationDocument {
	out := make([]configurationDocument, 0, len(entries))
	for _, entry := range entries {
		out = append(out, configurationDocument{Key: entry.Key, Value: entry.Value})
	}
	return out
}

func toConfiguration(docs []configurationDocument) []domain.ConfigurationEntry {
	if len(docs) == 0 {
		return nil
	}
	out := make([]domain.ConfigurationEntry, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.ConfigurationEntry{Key: doc.Key, Value: doc.Value})
	}
	return out
}

type schedulingDocument struct {
	WarehousingProviderID string         `firestore:"warehousingProviderId"`
	Reserved              bool           `firestore:"reserved"`
	ReservedAt            *time.Time     `firestore:"reservedAt,omitempty"`
	Context               map[string]any `firestore:"context,omitempty"`
}

type positionDocument struct {
	OrderID           string                  `firestore:"orderId"`
	ProductID         string                  `firestore:"productId"`
	OriginalProductID *string                 `firestore:"originalProductId,omitempty"`
	QuotationID       *string                 `firestore:"quotationId,omitempty"`
	Quantity          int                     `firestore:"quantity"`
	Configuration     []configurationDocument `firestore:"configuration"`
	Calculation       []calculationDocument   `firestore:"calculation"`
	Scheduling        []schedulingDocument    `firestore:"scheduling"`
	CreatedAt         time.Time               `firestore:"createdAt"`
	UpdatedAt         time.Time               `firestore:"updatedAt"`
}

func fromPosition(p domain.OrderPosition) positionDocument {
	scheduling := make([]schedulingDocument, 0, len(p.Scheduling))
	for _, entry := range p.Scheduling {
		scheduling = append(scheduling, schedulingDocument{
			WarehousingProviderID: entry.WarehousingProviderID,
			Reserved:              entry.Reserved,
			ReservedAt:            entry.ReservedAt,
			Context:               entry.Context,
		})
	}
	return positionDocument{
		OrderID:           p.OrderID,
		ProductID:         p.ProductID,
		OriginalProductID: p.OriginalProductID,
		QuotationID:       p.QuotationID,
		Quantity:          p.Quantity,
		Configuration:     fromConfiguration(p.Configuration),
		Calculation:       fromCalculation(p.Calculation),
		Scheduling:        scheduling,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (d positionDocument) toDomain(id string) (domain.OrderPosition, error) {
	calc, err := toCalculation(d.Calculation)
	if err != nil {
		return domain.OrderPosition{}, err
	}
	var scheduling []domain.SchedulingEntry
	for _, entry := range d.Scheduling {
		scheduling = append(scheduling, domain.SchedulingEntry{
			WarehousingProviderID: entry.WarehousingProviderID,
			Reserved:              entry.Reserved,
			ReservedAt:            entry.ReservedAt,
			Context:               entry.Context,
		})
	}
	return domain.OrderPosition{
		ID:                id,
		OrderID:           d.OrderID,
		ProductID:         d.ProductID,
		OriginalProductID: d.OriginalProductID,
		QuotationID:       d.QuotationID,
		Quantity:          d.Quantity,
		Configuration:     toConfiguration(d.Configuration),
		Calculation:       calc,
		Scheduling:        scheduling,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}, nil
}

// OrderID is stored as an empty string while unbound so it can be queried with ==.
type discountDocument struct {
	OrderID     string         `firestore:"orderId"`
	DiscountKey string         `firestore:"discountKey"`
	Trigger     string         `firestore:"trigger"`
	Code        string         `firestore:"code,omitempty"`
	Reservation map[string]any `firestore:"reservation,omitempty"`
	Issued      bool           `firestore:"issued"`
	Version     int64          `firestore:"version"`
	CreatedAt   time.Time      `firestore:"createdAt"`
	UpdatedAt   time.Time      `firestore:"updatedAt"`
}

func fromDiscount(d domain.OrderDiscount) discountDocument {
	doc := discountDocument{
		DiscountKey: d.DiscountKey,
		Trigger:     string(d.Trigger),
		Code:        d.Code,
		Reservation: d.Reservation,
		Issued:      d.Issued,
		Version:     d.Version,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.OrderID != nil {
		doc.OrderID = *d.OrderID
	}
	return doc
}

func (d discountDocument) toDomain(id string) domain.OrderDiscount {
	discount := domain.OrderDiscount{
		ID:          id,
		DiscountKey: d.DiscountKey,
		Trigger:     domain.DiscountTrigger(d.Trigger),
		Code:        d.Code,
		Reservation: d.Reservation,
		Issued:      d.Issued,
		Version:     d.Version,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if d.OrderID != "" {
		orderID := d.OrderID
		discount.OrderID = &orderID
	}
	return discount
}

type paymentDocument struct {
	OrderID           string                `firestore:"orderId"`
	PaymentProviderID string                `firestore:"paymentProviderId"`
	Status            string                `firestore:"status"`
	Context           map[string]any        `firestore:"context,omitempty"`
	TransactionID     string                `firestore:"transactionId,omitempty"`
	Calculation       []calculationDocument `firestore:"calculation"`
	Paid              *time.Time            `firestore:"paid,omitempty"`
	Log               []logDocument         `firestore:"log"`
	CreatedAt         time.Time             `firestore:"createdAt"`
	UpdatedAt         time.Time             `firestore:"updatedAt"`
}

func fromPayment(p domain.OrderPayment) paymentDocument {
	return paymentDocument{
		OrderID:           p.OrderID,
		PaymentProviderID: p.PaymentProviderID,
		Status:            string(p.CurrentStatus()),
		Context:           p.Context,
		TransactionID:     p.TransactionID,
		Calculation:       fromCalculation(p.Calculation),
		Paid:              p.Paid,
		Log:               fromLog(p.Log),
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
}

func (d paymentDocument) toDomain(id string) (domain.OrderPayment, error) {
	calc, err := toCalculation(d.Calculation)
	if err != nil {
		return domain.OrderPayment{}, err
	}
	return domain.OrderPayment{
		ID:                id,
		OrderID:           d.OrderID,
		PaymentProviderID: d.PaymentProviderID,
		Status:            domain.PaymentStatus(d.Status),
		Context:           d.Context,
		TransactionID:     d.TransactionID,
		Calculation:       calc,
		Paid:              d.Paid,
		Log:               toLog(d.Log),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}, nil
}

type deliveryDocument struct {
	OrderID            string                `firestore:"orderId"`
	DeliveryProviderID string                `firestore:"deliveryProviderId"`
	Status             string                `firestore:"status"`
	Context            map[string]any        `firestore:"context,omitempty"`
	Calculation        []calculationDocument `firestore:"calculation"`
	Delivered          *time.Time            `firestore:"delivered,omitempty"`
	Log                []logDocument         `firestore:"log"`
	CreatedAt          time.Time             `firestore:"createdAt"`
	UpdatedAt          time.Time             `firestore:"updatedAt"`
}

func fromDelivery(d domain.OrderDelivery) deliveryDocument {
	return deliveryDocument{
		OrderID:            d.OrderID,
		DeliveryProviderID: d.DeliveryProviderID,
		Status:             string(d.CurrentStatus()),
		Context:            d.Context,
		Calculation:        fromCalculation(d.Calculation),
		Delivered:          d.Delivered,
		Log:                fromLog(d.Log),
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
}

func (d deliveryDocument) toDomain(id string) (domain.OrderDelivery, error) {
	calc, err := toCalculation(d.Calculation)
	if err != nil {
		return domain.OrderDelivery{}, err
	}
	return domain.OrderDelivery{
		ID:                 id,
		OrderID:            d.OrderID,
		DeliveryProviderID: d.DeliveryProviderID,
		Status:             domain.DeliveryStatus(d.Status),
		Context:            d.Context,
		Calculation:        calc,
		Delivered:          d.Delivered,
		Log:                toLog(d.Log),
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}, nil
}

type priceDocument struct {
	Currency   string `firestore:"currency"`
	Country    string `firestore:"country,omitempty"`
	Amount     int64  `firestore:"amount"`
	IsNetPrice bool   `firestore:"isNetPrice"`
	IsTaxable  bool   `firestore:"isTaxable"`
}

type planDocument struct {
	Interval      string `firestore:"interval"`
	IntervalCount int    `firestore:"intervalCount"`
	TrialDays     int    `firestore:"trialDays,omitempty"`
}

type productDocument struct {
	SKU              string          `firestore:"sku,omitempty"`
	Title            string          `firestore:"title"`
	Status           string          `firestore:"status"`
	Prices           []priceDocument `firestore:"prices"`
	TaxCategory      string          `firestore:"taxCategory,omitempty"`
	SubscriptionPlan *planDocument   `firestore:"subscriptionPlan,omitempty"`
	Tracked          bool            `firestore:"tracked"`
	CreatedAt        time.Time       `firestore:"createdAt"`
	UpdatedAt        time.Time       `firestore:"updatedAt"`
}

func fromProduct(p domain.Product) productDocument {
	prices := make([]priceDocument, 0, len(p.Prices))
	for _, price := range p.Prices {
		prices = append(prices, priceDocument(price))
	}
	doc := productDocument{
		SKU:         p.SKU,
		Title:       p.Title,
		Status:      string(p.Status),
		Prices:      prices,
		TaxCategory: p.TaxCategory,
		Tracked:     p.Tracked,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if plan := p.SubscriptionPlan; plan != nil {
		doc.SubscriptionPlan = &planDocument{Interval: string(plan.Interval), IntervalCount: plan.IntervalCount, TrialDays: plan.TrialDays}
	}
	return doc
}

func (d productDocument) toDomain(id string) domain.Product {
	prices := make([]domain.ProductPrice, 0, len(d.Prices))
	for _, price := range d.Prices {
		prices = append(prices, domain.ProductPrice(price))
	}
	product := domain.Product{
		ID:          id,
		SKU:         d.SKU,
		Title:       d.Title,
		Status:      domain.ProductStatus(d.Status),
		Prices:      prices,
		TaxCategory: d.TaxCategory,
		Tracked:     d.Tracked,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if plan := d.SubscriptionPlan; plan != nil {
		product.SubscriptionPlan = &domain.SubscriptionPlan{
			Interval:      domain.SubscriptionInterval(plan.Interval),
			IntervalCount: plan.IntervalCount,
			TrialDays:     plan.TrialDays,
		}
	}
	return product
}

type quotationDocument struct {
	UserID        string                  `firestore:"userId"`
	ProductID     string                  `firestore:"productId"`
	Status        string                  `firestore:"status"`
	Amount        int64                   `firestore:"amount"`
	Currency      string                  `firestore:"currency"`
	Configuration []configurationDocument `firestore:"configuration"`
	ExpiresAt     *time.Time              `firestore:"expiresAt,omitempty"`
	CreatedAt     time.Time               `firestore:"createdAt"`
}

func fromQuotation(q domain.Quotation) quotationDocument {
	return quotationDocument{
		UserID:        q.UserID,
		ProductID:     q.ProductID,
		Status:        string(q.Status),
		Amount:        q.Amount,
		Currency:      q.Currency,
		Configuration: fromConfiguration(q.Configuration),
		ExpiresAt:     q.ExpiresAt,
		CreatedAt:     q.CreatedAt,
	}
}

func (d quotationDocument) toDomain(id string) domain.Quotation {
	return domain.Quotation{
		ID:            id,
		UserID:        d.UserID,
		ProductID:     d.ProductID,
		Status:        domain.QuotationStatus(d.Status),
		Amount:        d.Amount,
		Currency:      d.Currency,
		Configuration: toConfiguration(d.Configuration),
		ExpiresAt:     d.ExpiresAt,
		CreatedAt:     d.CreatedAt,
	}
}

type subscriptionDocument struct {
	UserID      string     `firestore:"userId"`
	OrderID     string     `firestore:"orderId"`
	PositionID  string     `firestore:"positionId"`
	ProductID   string     `firestore:"productId"`
	Quantity    int        `firestore:"quantity"`
	Status      string     `firestore:"status"`
	PeriodStart time.Time  `firestore:"periodStart"`
	PeriodEnd   time.Time  `firestore:"periodEnd"`
	TrialEnd    *time.Time `firestore:"trialEnd,omitempty"`
	CreatedAt   time.Time  `firestore:"createdAt"`
}

type orderDocumentDocument struct {
	OrderID   string    `firestore:"orderId"`
	Type      string    `firestore:"type"`
	Path      string    `firestore:"path"`
	CreatedAt time.Time `firestore:"createdAt"`
}
