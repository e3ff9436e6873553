package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/requestctx"
	"github.com/hanko-field/commerce/internal/platform/textutil"
	"github.com/hanko-field/commerce/internal/services"
)

const (
	maxWebhookBodySize    = 256 * 1024
	stripeSignatureHeader = "Stripe-Signature"

	stripeEventPaymentSucceeded = "payment_intent.succeeded"
	stripeEventChargeRefunded   = "charge.refunded"
)

// WebhookHandlersDeps wires the webhook endpoints.
type WebhookHandlersDeps struct {
	Orders     services.OrderService
	Payments   services.PaymentService
	Deliveries services.DeliveryService

	StripeSecret string

	// HMAC verifies carrier callbacks. CarrierSecrets maps a carrier slug to the secret name
	// handed to the validator.
	HMAC           *auth.HMACValidator
	CarrierSecrets map[string]string

	Logger *zap.Logger
}

// WebhookHandlers receives PSP and carrier callbacks.
type WebhookHandlers struct {
	orders         services.OrderService
	payments       services.PaymentService
	deliveries     services.DeliveryService
	stripeSecret   string
	hmac           *auth.HMACValidator
	carrierSecrets map[string]string
	logger         *zap.Logger
}

// NewWebhookHandlers constructs the webhook handlers.
func NewWebhookHandlers(deps WebhookHandlersDeps) *WebhookHandlers {
	secrets := make(map[string]string, len(deps.CarrierSecrets))
	for carrier, name := range deps.CarrierSecrets {
		secrets[strings.ToLower(strings.TrimSpace(carrier))] = strings.TrimSpace(name)
	}
	return &WebhookHandlers{
		orders:         deps.Orders,
		payments:       deps.Payments,
		deliveries:     deps.Deliveries,
		stripeSecret:   strings.TrimSpace(deps.StripeSecret),
		hmac:           deps.HMAC,
		carrierSecrets: secrets,
		logger:         deps.Logger,
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripe)

	carriers := r.With()
	if h.hmac != nil {
		carriers = r.With(h.hmac.RequireHMACResolver(h.carrierSecret))
	}
	carriers.Post("/carriers/{carrier}", h.carrier)
}

func (h *WebhookHandlers) carrierSecret(r *http.Request) (string, bool) {
	carrier := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "carrier")))
	name, ok := h.carrierSecrets[carrier]
	return name, ok && name != ""
}

func (h *WebhookHandlers) log(ctx context.Context) *zap.Logger {
	if logger := requestctx.Logger(ctx); logger != requestctx.NoopLogger() {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return zap.NewNop()
}

func (h *WebhookHandlers) stripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil || h.orders == nil || h.stripeSecret == "" {
		writeUnavailable(ctx, w, "stripe webhook")
		return
	}
	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	event, err := webhook.ConstructEventWithOptions(body, r.Header.Get(stripeSignatureHeader), h.stripeSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.log(ctx).Warn("stripe webhook signature verification failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature invalid", http.StatusBadRequest))
		return
	}
	logger := h.log(ctx).With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))

	switch string(event.Type) {
	case stripeEventPaymentSucceeded:
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment intent payload invalid", http.StatusBadRequest))
			return
		}
		err = h.settlePayment(ctx, intent.ID, event.ID, false)
	case stripeEventChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "charge payload invalid", http.StatusBadRequest))
			return
		}
		if charge.PaymentIntent == nil {
			break
		}
		err = h.settlePayment(ctx, charge.PaymentIntent.ID, event.ID, true)
	default:
		logger.Info("unhandled stripe event")
	}

	switch {
	case err == nil:
	case errors.Is(err, services.ErrPaymentNotFound):
		// Intents created outside checkout.
		logger.Info("stripe event for unknown payment")
	case errors.Is(err, services.ErrPaymentInvalidState):
		logger.Warn("stripe event out of order", zap.Error(err))
	default:
		logger.Error("stripe event failed", zap.Error(err))
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "received"})
}

// settlePayment records the PSP outcome and advances the order.
func (h *WebhookHandlers) settlePayment(ctx context.Context, intentID, eventID string, refunded bool) error {
	if strings.TrimSpace(intentID) == "" {
		return nil
	}
	payment, err := h.payments.FindByTransactionID(ctx, intentID)
	if err != nil {
		return err
	}
	cmd := services.PaymentStatusCommand{
		PaymentID:     payment.ID,
		TransactionID: intentID,
		Info:          map[string]any{"stripeEvent": eventID},
	}
	if refunded {
		_, err = h.payments.MarkRefunded(ctx, cmd)
		return err
	}
	if _, err := h.payments.MarkPaid(ctx, cmd); err != nil {
		return err
	}
	_, err = h.orders.ProcessOrder(ctx, payment.OrderID)
	return err
}

type carrierEventRequest struct {
	DeliveryID string         `json:"delivery_id"`
	Status     string         `json:"status"`
	Info       map[string]any `json:"info"`
}

func (h *WebhookHandlers) carrier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.deliveries == nil || h.orders == nil {
		writeUnavailable(ctx, w, "carrier webhook")
		return
	}
	var req carrierEventRequest
	if !decodeBody(w, r, maxWebhookBodySize, false, &req) {
		return
	}
	if strings.TrimSpace(req.DeliveryID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "delivery_id is required", http.StatusBadRequest))
		return
	}
	info := textutil.SanitizeContext(req.Info)
	if info == nil {
		info = map[string]any{}
	}
	info["carrier"] = strings.ToLower(chi.URLParam(r, "carrier"))
	cmd := services.DeliveryStatusCommand{DeliveryID: strings.TrimSpace(req.DeliveryID), Info: info}

	var (
		delivery services.OrderDelivery
		err      error
	)
	switch strings.ToUpper(strings.TrimSpace(req.Status)) {
	case "DELIVERED":
		delivery, err = h.deliveries.MarkDelivered(ctx, cmd)
	case "RETURNED":
		delivery, err = h.deliveries.MarkReturned(ctx, cmd)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be DELIVERED or RETURNED", http.StatusBadRequest))
		return
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if _, err := h.orders.ProcessOrder(ctx, delivery.OrderID); err != nil {
		h.log(ctx).Error("process order after carrier event failed", zap.String("order_id", delivery.OrderID), zap.Error(err))
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, deliveryResponse{Delivery: buildDeliveryPayload(&delivery)})
}
