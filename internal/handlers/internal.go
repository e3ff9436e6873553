package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

// InternalHandlers serves the routes called by Cloud Tasks, Pub/Sub push and back-office jobs.
// Authentication is the OIDC middleware mounted on the /internal group.
type InternalHandlers struct {
	orders     services.OrderService
	payments   services.PaymentService
	deliveries services.DeliveryService
}

// NewInternalHandlers constructs the internal handlers.
func NewInternalHandlers(orders services.OrderService, payments services.PaymentService, deliveries services.DeliveryService) *InternalHandlers {
	return &InternalHandlers{orders: orders, payments: payments, deliveries: deliveries}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}:process", h.processOrder)
	r.Post("/payments/{paymentID}:paid", h.markPaid)
	r.Post("/deliveries/{deliveryID}:delivered", h.markDelivered)
}

type statusInfoRequest struct {
	TransactionID string         `json:"transaction_id"`
	Info          map[string]any `json:"info"`
}

func (h *InternalHandlers) processOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order service")
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}
	order, err := h.orders.ProcessOrder(ctx, orderID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *InternalHandlers) markPaid(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.payments == nil {
		writeUnavailable(ctx, w, "payment service")
		return
	}
	var req statusInfoRequest
	if !decodeBody(w, r, maxOrderBodySize, true, &req) {
		return
	}
	payment, err := h.payments.MarkPaid(ctx, services.PaymentStatusCommand{
		PaymentID:     strings.TrimSpace(chi.URLParam(r, "paymentID")),
		TransactionID: strings.TrimSpace(req.TransactionID),
		Info:          withServiceActor(r, req.Info),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if _, err := h.orders.ProcessOrder(ctx, payment.OrderID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(&payment)})
}

func (h *InternalHandlers) markDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil || h.deliveries == nil {
		writeUnavailable(ctx, w, "delivery service")
		return
	}
	var req statusInfoRequest
	if !decodeBody(w, r, maxOrderBodySize, true, &req) {
		return
	}
	delivery, err := h.deliveries.MarkDelivered(ctx, services.DeliveryStatusCommand{
		DeliveryID: strings.TrimSpace(chi.URLParam(r, "deliveryID")),
		Info:       withServiceActor(r, req.Info),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if _, err := h.orders.ProcessOrder(ctx, delivery.OrderID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, deliveryResponse{Delivery: buildDeliveryPayload(&delivery)})
}

// withServiceActor records the calling service account in the status info.
func withServiceActor(r *http.Request, info map[string]any) map[string]any {
	out := make(map[string]any, len(info)+1)
	for key, value := range info {
		out[key] = value
	}
	if identity, ok := auth.ServiceIdentityFromContext(r.Context()); ok && identity.Email != "" {
		out["actor"] = identity.Email
	}
	return out
}
