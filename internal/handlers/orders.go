package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/storage"
	"github.com/hanko-field/commerce/internal/platform/textutil"
	"github.com/hanko-field/commerce/internal/services"
)

const (
	maxOrderBodySize     = 16 * 1024
	maxCheckoutBodySize  = 64 * 1024
	discountAttemptBurst = 10
	discountAttemptSpan  = 10 * time.Minute
)

// DocumentIndex lists the documents generated for an order.
type DocumentIndex interface {
	ListByOrder(ctx context.Context, orderID string) ([]services.OrderDocument, error)
}

// DocumentSigner issues signed download URLs.
type DocumentSigner interface {
	DownloadURL(ctx context.Context, bucket, object string, opts storage.DownloadOptions) (storage.SignedURLResult, error)
}

// OrderHandlers exposes the cart and order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
	limiter     rateLimiter

	documents DocumentIndex
	signer    DocumentSigner
	bucket    string
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithCheckoutIdempotency wraps the checkout route with the given middleware.
func WithCheckoutIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// WithDiscountRateLimit overrides how many discount codes a user may try per window.
func WithDiscountRateLimit(burst int, window time.Duration, clock func() time.Time) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = newKeyedRateLimiter(burst, window, clock)
	}
}

// WithDocumentDownloads enables signed document downloads from bucket.
func WithDocumentDownloads(index DocumentIndex, signer DocumentSigner, bucket string) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.documents = index
		h.signer = signer
		h.bucket = strings.TrimSpace(bucket)
	}
}

// NewOrderHandlers constructs handlers enforcing Firebase authentication before invoking the order service.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:   authn,
		orders:  orders,
		limiter: newKeyedRateLimiter(discountAttemptBurst, discountAttemptSpan, nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// CartRoutes registers the /cart endpoints.
func (h *OrderHandlers) CartRoutes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createCart)
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/{orderID}", h.getOrder)
	r.Delete("/{orderID}", h.deleteOrder)
	r.Post("/{orderID}/items", h.addProductItem)
	r.Post("/{orderID}/quotation-items", h.addQuotationItem)
	r.Patch("/{orderID}/items/{positionID}", h.updateItemQuantity)
	r.Put("/{orderID}/delivery-provider", h.setDeliveryProvider)
	r.Put("/{orderID}/payment-provider", h.setPaymentProvider)
	r.Put("/{orderID}/contact", h.updateContact)
	r.Put("/{orderID}/billing-address", h.updateBillingAddress)
	r.Put("/{orderID}/context", h.updateContext)
	r.Post("/{orderID}/discounts", h.addDiscount)
	r.Delete("/{orderID}/discounts/{discountID}", h.removeDiscount)
	r.Post("/{orderID}/recalculate", h.recalculate)
	r.Get("/{orderID}/documents/{documentID}", h.downloadDocument)
	if h.idempotency != nil {
		r.With(h.idempotency).Post("/{orderID}:checkout", h.checkout)
	} else {
		r.Post("/{orderID}:checkout", h.checkout)
	}
	r.Post("/{orderID}:confirm", h.confirm)
}

type createCartRequest struct {
	Currency string `json:"currency"`
	Country  string `json:"country"`
}

func (h *OrderHandlers) createCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order service")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req createCartRequest
	if !decodeBody(w, r, maxOrderBodySize, true, &req) {
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		UserID:   identity.UID,
		Currency: strings.TrimSpace(req.Currency),
		Country:  strings.TrimSpace(req.Country),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	payload, err := h.expandOrder(ctx, order)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: payload})
}

// expandOrder loads the sub-entities and pricing of an order.
func (h *OrderHandlers) expandOrder(ctx context.Context, order services.Order) (orderPayload, error) {
	payload := buildOrderPayload(order)

	items, err := h.orders.Items(ctx, order.ID)
	if err != nil {
		return orderPayload{}, err
	}
	for _, item := range items {
		payload.Items = append(payload.Items, buildPositionPayload(item, order.Currency))
	}

	discounts, err := h.orders.Discounts(ctx, order.ID)
	if err != nil {
		return orderPayload{}, err
	}
	sheet, err := h.orders.Pricing(ctx, order.ID)
	if err != nil {
		return orderPayload{}, err
	}
	amounts := make(map[string]pricePayload)
	for _, entry := range sheet.DiscountPrices() {
		amounts[entry.DiscountID] = buildPricePayload(entry.Price)
	}
	for _, discount := range discounts {
		item := buildDiscountPayload(discount)
		if amount, ok := amounts[discount.ID]; ok {
			item.Amount = &amount
		}
		payload.Discounts = append(payload.Discounts, item)
	}
	if sheet.Len() > 0 {
		totals := buildTotalsPayload(sheet)
		payload.Totals = &totals
	}

	payment, err := h.orders.Payment(ctx, order.ID)
	if err != nil {
		return orderPayload{}, err
	}
	payload.Payment = buildPaymentPayload(payment)
	delivery, err := h.orders.Delivery(ctx, order.ID)
	if err != nil {
		return orderPayload{}, err
	}
	payload.Delivery = buildDeliveryPayload(delivery)

	if order.IsCart() {
		if payload.PaymentProviders, err = h.orders.SupportedPaymentProviders(ctx, order.ID); err != nil {
			return orderPayload{}, err
		}
		if payload.DeliveryProviders, err = h.orders.SupportedDeliveryProviders(ctx, order.ID); err != nil {
			return orderPayload{}, err
		}
	}
	return payload, nil
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	if err := h.orders.DeleteOrder(ctx, order.ID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addProductItemRequest struct {
	ProductID         string                 `json:"product_id"`
	OriginalProductID string                 `json:"original_product_id"`
	Quantity          int                    `json:"quantity"`
	Configuration     []configurationPayload `json:"configuration"`
}

type positionResponse struct {
	Item positionPayload `json:"item"`
}

func (h *OrderHandlers) addProductItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	var req addProductItemRequest
	if !decodeBody(w, r, maxOrderBodySize, false, &req) {
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product_id is required", http.StatusBadRequest))
		return
	}
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}

	position, err := h.orders.AddProductItem(ctx, services.AddProductItemCommand{
		OrderID:           order.ID,
		ProductID:         strings.TrimSpace(req.ProductID),
		OriginalProductID: strings.TrimSpace(req.OriginalProductID),
		Quantity:          quantity,
		Configuration:     configurationFromPayload(req.Configuration),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, positionResponse{Item: buildPositionPayload(position, order.Currency)})
}

type addQuotationItemRequest struct {
	QuotationID   string                 `json:"quotation_id"`
	Configuration []configurationPayload `json:"configuration"`
}

func (h *OrderHandlers) addQuotationItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	var req addQuotationItemRequest
	if !decodeBody(w, r, maxOrderBodySize, false, &req) {
		return
	}
	if strings.TrimSpace(req.QuotationID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quotation_id is required", http.StatusBadRequest))
		return
	}

	position, err := h.orders.AddQuotationItem(ctx, services.AddQuotationItemCommand{
		OrderID:       order.ID,
		QuotationID:   strings.TrimSpace(req.QuotationID),
		Configuration: configurationFromPayload(req.Configuration),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, positionResponse{Item: buildPositionPayload(position, order.Currency)})
}

type updateItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *OrderHandlers) updateItemQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if !decodeBody(w, r, maxOrderBodySize, false, &req) {
		return
	}
	if req.Quantity == nil || *req.Quantity < 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity must be zero or positive", http.StatusBadRequest))
		return
	}

	updated, err := h.orders.UpdateItemQuantity(ctx, services.UpdateItemQuantityCommand{
		OrderID:    order.ID,
		PositionID: strings.TrimSpace(chi.URLParam(r, "positionID")),
		Quantity:   *req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

type selectProviderRequest struct {
	Provider string         `json:"provider"`
	Context  map[string]any `json:"context"`
}

type deliveryResponse struct {
	Delivery *deliveryPayload `json:"delivery"`
}

type paymentResponse struct {
	Payment *paymentPayload `json:"payment"`
}

func (h *OrderHandlers) setDeliveryProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	var req selectProviderRequest
	if !decodeBody(w, r, maxOrderBodySize, false, &req) {
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "provider is required", http.StatusBadRequest))
		return
	}

	delivery, err := h.orders.SetDeliveryProvider(ctx, services.SelectProviderCommand{
		OrderID:    order.ID,
		ProviderID: strings.TrimSpace(req.Provider),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if values := textutil.SanitizeContext(req.Context); len(values) > 0 {
		delivery, err = h.orders.UpdateDeliveryContext(ctx, services.UpdateContextCommand{OrderID: order.ID, Values: values})
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
	}
	writeJSONResponse(w, http.StatusOK, deliveryResponse{Delivery: buildDeliveryPayload(&delivery)})
}

func (h *OrderHandlers) setPaymentProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	var req selectProviderRequest
	if !decodeBody(w, r, maxOrderBodySize, false, &req) {
		return
	}
	if strings.TrimSpace(req.Provider) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "provider is required", http.StatusBadRequest))
		return
	}

	payment, err := h.orders.SetPaymentProvider(ctx, services.SelectProviderCommand{
		OrderID:    order.ID,
		ProviderID: strings.TrimSpace(req.Provider),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(&payment)})
}

func (h *OrderHandlers) updateContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	var req contactPayload
	if !decodeBody(w, r, maxOrderBodySize, false, &req) {
		return
	}

	updated, err := h.orders.UpdateContact(ctx, services.UpdateContactCommand{
		OrderID: order.ID,
		Contact: services.Contact{
			EmailAddress: strings.TrimSpace(req.Email),
			TelNumber:    strings.TrimSpace(req.Tel),
		},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

func (h *OrderHandlers) updateBillingAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	var req addressPayload
	if !decodeBody(w, r, maxOrderBodySize, false, &req) {
		return
	}
	req.Recipient = textutil.SanitizeText(req.Recipient)
	req.Line1 = textutil.SanitizeText(req.Line1)
	req.City = textutil.SanitizeText(req.City)

	updated, err := h.orders.UpdateBillingAddress(ctx, services.UpdateBillingAddressCommand{
		OrderID: order.ID,
		Address: req.toDomain(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

type updateContextRequest struct {
	Values map[string]any `json:"values"`
}

func (h *OrderHandlers) updateContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	var req updateContextRequest
	if !decodeBody(w, r, maxOrderBodySize, false, &req) {
		return
	}

	updated, err := h.orders.UpdateContext(ctx, services.UpdateContextCommand{
		OrderID: order.ID,
		Values:  textutil.SanitizeContext(req.Values),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

type addDiscountRequest struct {
	Code string `json:"code"`
}

type discountResponse struct {
	Discount discountPayload `json:"discount"`
}

func (h *OrderHandlers) addDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	identity, _ := auth.IdentityFromContext(ctx)
	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many discount code attempts", http.StatusTooManyRequests))
		return
	}
	var req addDiscountRequest
	if !decodeBody(w, r, maxOrderBodySize, false, &req) {
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}

	discount, err := h.orders.AddDiscount(ctx, services.AddDiscountCommand{OrderID: order.ID, Code: code})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, discountResponse{Discount: buildDiscountPayload(discount)})
}

func (h *OrderHandlers) removeDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	discountID := strings.TrimSpace(chi.URLParam(r, "discountID"))
	if err := h.orders.RemoveDiscount(ctx, order.ID, discountID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrderHandlers) recalculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	updated, err := h.orders.UpdateCalculation(ctx, order.ID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload, err := h.expandOrder(ctx, updated)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: payload})
}

type checkoutRequest struct {
	OrderContext    map[string]any `json:"order_context"`
	PaymentContext  map[string]any `json:"payment_context"`
	DeliveryContext map[string]any `json:"delivery_context"`
}

func (req checkoutRequest) command(orderID, actorID string) services.CheckoutCommand {
	return services.CheckoutCommand{
		OrderID:         orderID,
		ActorID:         actorID,
		OrderContext:    textutil.SanitizeContext(req.OrderContext),
		PaymentContext:  textutil.SanitizeContext(req.PaymentContext),
		DeliveryContext: textutil.SanitizeContext(req.DeliveryContext),
	}
}

func (h *OrderHandlers) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	var req checkoutRequest
	if !decodeBody(w, r, maxCheckoutBodySize, true, &req) {
		return
	}
	identity, _ := auth.IdentityFromContext(ctx)

	updated, err := h.orders.Checkout(ctx, req.command(order.ID, identity.UID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

func (h *OrderHandlers) confirm(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	identity, _ := auth.IdentityFromContext(ctx)
	if !identity.IsStaff() {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "staff role required", http.StatusForbidden))
		return
	}
	var req checkoutRequest
	if !decodeBody(w, r, maxCheckoutBodySize, true, &req) {
		return
	}

	updated, err := h.orders.Confirm(ctx, req.command(order.ID, identity.UID))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated)})
}

type documentResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

func (h *OrderHandlers) downloadDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.documents == nil || h.signer == nil || h.bucket == "" {
		writeUnavailable(ctx, w, "documents")
		return
	}
	order, ok := h.authorizedOrder(w, r)
	if !ok {
		return
	}
	documentID := strings.TrimSpace(chi.URLParam(r, "documentID"))

	docs, err := h.documents.ListByOrder(ctx, order.ID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	for _, doc := range docs {
		if doc.ID != documentID {
			continue
		}
		identity, _ := auth.IdentityFromContext(ctx)
		signed, err := h.signer.DownloadURL(ctx, h.bucket, doc.Path, storage.DownloadOptions{
			OwnerID:      order.UserID,
			Identity:     identity,
			ResponseType: "text/html",
		})
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "document cannot be downloaded", http.StatusForbidden))
			return
		}
		writeJSONResponse(w, http.StatusOK, documentResponse{
			ID:        doc.ID,
			Type:      doc.Type,
			URL:       signed.URL,
			ExpiresAt: formatTime(signed.ExpiresAt),
		})
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("not_found", "document not found", http.StatusNotFound))
}

// authorizedOrder loads the order in the path. Orders of other users are reported as missing
// unless the caller is staff.
func (h *OrderHandlers) authorizedOrder(w http.ResponseWriter, r *http.Request) (services.Order, bool) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order service")
		return services.Order{}, false
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return services.Order{}, false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return services.Order{}, false
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return services.Order{}, false
	}
	if !identity.Owns(order.UserID) {
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
		return services.Order{}, false
	}
	return order, true
}
