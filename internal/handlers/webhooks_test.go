package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/services"
)

const testStripeSecret = "whsec_test"

type stubPaymentService struct {
	byTransaction map[string]services.OrderPayment
	paid          []services.PaymentStatusCommand
	refunded      []services.PaymentStatusCommand
	markErr       error
}

func (s *stubPaymentService) Select(context.Context, services.Order, string) (services.OrderPayment, error) {
	return services.OrderPayment{}, nil
}

func (s *stubPaymentService) UpdateContext(context.Context, string, map[string]any) (services.OrderPayment, error) {
	return services.OrderPayment{}, nil
}

func (s *stubPaymentService) Charge(context.Context, services.Order, string) (services.OrderPayment, error) {
	return services.OrderPayment{}, nil
}

func (s *stubPaymentService) MarkPaid(_ context.Context, cmd services.PaymentStatusCommand) (services.OrderPayment, error) {
	if s.markErr != nil {
		return services.OrderPayment{}, s.markErr
	}
	s.paid = append(s.paid, cmd)
	return services.OrderPayment{ID: cmd.PaymentID, OrderID: "ord_1", Status: domain.PaymentStatusPaid}, nil
}

func (s *stubPaymentService) MarkRefunded(_ context.Context, cmd services.PaymentStatusCommand) (services.OrderPayment, error) {
	s.refunded = append(s.refunded, cmd)
	return services.OrderPayment{ID: cmd.PaymentID, OrderID: "ord_1", Status: domain.PaymentStatusRefunded}, nil
}

func (s *stubPaymentService) FindByTransactionID(_ context.Context, transactionID string) (services.OrderPayment, error) {
	payment, ok := s.byTransaction[transactionID]
	if !ok {
		return services.OrderPayment{}, fmt.Errorf("%w: %s", services.ErrPaymentNotFound, transactionID)
	}
	return payment, nil
}

func (s *stubPaymentService) BlocksConfirmation(context.Context, services.Order, services.OrderPayment) bool {
	return false
}

func (s *stubPaymentService) BlocksFulfillment(context.Context, services.Order, services.OrderPayment) bool {
	return false
}

type stubDeliveryService struct {
	delivered []services.DeliveryStatusCommand
	returned  []services.DeliveryStatusCommand
}

func (s *stubDeliveryService) Select(context.Context, services.Order, string) (services.OrderDelivery, error) {
	return services.OrderDelivery{}, nil
}

func (s *stubDeliveryService) UpdateContext(context.Context, string, map[string]any) (services.OrderDelivery, error) {
	return services.OrderDelivery{}, nil
}

func (s *stubDeliveryService) Send(context.Context, services.Order, string, []services.OrderPosition) (services.OrderDelivery, error) {
	return services.OrderDelivery{}, nil
}

func (s *stubDeliveryService) MarkDelivered(_ context.Context, cmd services.DeliveryStatusCommand) (services.OrderDelivery, error) {
	s.delivered = append(s.delivered, cmd)
	return services.OrderDelivery{ID: cmd.DeliveryID, OrderID: "ord_1", Status: domain.DeliveryStatusDelivered}, nil
}

func (s *stubDeliveryService) MarkReturned(_ context.Context, cmd services.DeliveryStatusCommand) (services.OrderDelivery, error) {
	s.returned = append(s.returned, cmd)
	return services.OrderDelivery{ID: cmd.DeliveryID, OrderID: "ord_1", Status: domain.DeliveryStatusReturned}, nil
}

func (s *stubDeliveryService) BlocksConfirmation(context.Context, services.Order, services.OrderDelivery) bool {
	return false
}

func (s *stubDeliveryService) BlocksFulfillment(context.Context, services.Order, services.OrderDelivery) bool {
	return false
}

func signStripePayload(payload string, ts time.Time) string {
	timestamp := fmt.Sprintf("%d", ts.Unix())
	mac := hmac.New(sha256.New, []byte(testStripeSecret))
	mac.Write([]byte(timestamp + "." + payload))
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func stripeRequest(payload string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set(stripeSignatureHeader, signStripePayload(payload, time.Now()))
	return req
}

func newWebhookRouter(h *WebhookHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/webhooks", h.Routes)
	return router
}

func TestStripeWebhookMarksPaidAndProcesses(t *testing.T) {
	payments := &stubPaymentService{byTransaction: map[string]services.OrderPayment{
		"pi_1": {ID: "pay_1", OrderID: "ord_1", PaymentProviderID: "stripe"},
	}}
	processed := ""
	orders := &stubOrderService{processFunc: func(_ context.Context, orderID string) (services.Order, error) {
		processed = orderID
		return services.Order{ID: orderID}, nil
	}}
	router := newWebhookRouter(NewWebhookHandlers(WebhookHandlersDeps{
		Orders:       orders,
		Payments:     payments,
		StripeSecret: testStripeSecret,
	}))

	payload := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1","object":"payment_intent"}}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, stripeRequest(payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(payments.paid) != 1 || payments.paid[0].PaymentID != "pay_1" || payments.paid[0].TransactionID != "pi_1" {
		t.Fatalf("unexpected mark paid calls %+v", payments.paid)
	}
	if payments.paid[0].Info["stripeEvent"] != "evt_1" {
		t.Fatalf("expected event id in info, got %v", payments.paid[0].Info)
	}
	if processed != "ord_1" {
		t.Fatalf("expected order to be processed, got %q", processed)
	}
}

func TestStripeWebhookRefund(t *testing.T) {
	payments := &stubPaymentService{byTransaction: map[string]services.OrderPayment{
		"pi_2": {ID: "pay_2", OrderID: "ord_1"},
	}}
	router := newWebhookRouter(NewWebhookHandlers(WebhookHandlersDeps{
		Orders:       &stubOrderService{},
		Payments:     payments,
		StripeSecret: testStripeSecret,
	}))

	payload := `{"id":"evt_2","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge","payment_intent":"pi_2"}}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, stripeRequest(payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(payments.refunded) != 1 || payments.refunded[0].PaymentID != "pay_2" {
		t.Fatalf("unexpected refund calls %+v", payments.refunded)
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	router := newWebhookRouter(NewWebhookHandlers(WebhookHandlersDeps{
		Orders:       &stubOrderService{},
		Payments:     &stubPaymentService{},
		StripeSecret: testStripeSecret,
	}))

	payload := `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set(stripeSignatureHeader, "t=1,v1=deadbeef")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestStripeWebhookAcknowledgesUnknownPayments(t *testing.T) {
	payments := &stubPaymentService{}
	router := newWebhookRouter(NewWebhookHandlers(WebhookHandlersDeps{
		Orders:       &stubOrderService{},
		Payments:     payments,
		StripeSecret: testStripeSecret,
	}))

	payload := `{"id":"evt_3","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_unknown"}}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, stripeRequest(payload))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(payments.paid) != 0 {
		t.Fatalf("expected no status change")
	}
}

func TestStripeWebhookSurfacesFailures(t *testing.T) {
	payments := &stubPaymentService{
		byTransaction: map[string]services.OrderPayment{"pi_1": {ID: "pay_1", OrderID: "ord_1"}},
		markErr:       fmt.Errorf("repository unavailable: %w", context.DeadlineExceeded),
	}
	router := newWebhookRouter(NewWebhookHandlers(WebhookHandlersDeps{
		Orders:       &stubOrderService{},
		Payments:     payments,
		StripeSecret: testStripeSecret,
	}))

	payload := `{"id":"evt_4","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_1"}}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, stripeRequest(payload))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 so the PSP retries, got %d", rr.Code)
	}
}

func TestCarrierWebhookTransitions(t *testing.T) {
	deliveries := &stubDeliveryService{}
	processed := 0
	orders := &stubOrderService{processFunc: func(_ context.Context, orderID string) (services.Order, error) {
		processed++
		return services.Order{ID: orderID}, nil
	}}
	router := newWebhookRouter(NewWebhookHandlers(WebhookHandlersDeps{Orders: orders, Deliveries: deliveries}))

	body := `{"delivery_id":"dlv_1","status":"delivered","info":{"tracking":"<b>123</b>"}}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/carriers/Yamato", strings.NewReader(body)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(deliveries.delivered) != 1 {
		t.Fatalf("expected delivered transition")
	}
	info := deliveries.delivered[0].Info
	if info["carrier"] != "yamato" || info["tracking"] != "123" {
		t.Fatalf("unexpected info %v", info)
	}
	if processed != 1 {
		t.Fatalf("expected order processing after carrier event")
	}

	body = `{"delivery_id":"dlv_1","status":"LOST"}`
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/carriers/yamato", strings.NewReader(body)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}

func TestCarrierSecretResolver(t *testing.T) {
	h := NewWebhookHandlers(WebhookHandlersDeps{CarrierSecrets: map[string]string{" Yamato ": "carrier-yamato"}})

	resolve := func(carrier string) (string, bool) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/carriers/"+carrier, nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("carrier", carrier)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		return h.carrierSecret(req)
	}

	if name, ok := resolve("YAMATO"); !ok || name != "carrier-yamato" {
		t.Fatalf("expected yamato secret, got %q %v", name, ok)
	}
	if _, ok := resolve("sagawa"); ok {
		t.Fatalf("expected unknown carrier to be rejected")
	}
}
