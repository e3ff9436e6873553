package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

const defaultBodyLimit = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody reads a JSON body into dst. It writes the error response itself and reports
// whether the handler may continue.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, allowEmpty bool, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, limit)
	switch {
	case errors.Is(err, errEmptyBody) && allowEmpty:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

// writeServiceError maps service sentinels onto API error codes.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var validation *services.CheckoutValidationError
	switch {
	case errors.As(err, &validation):
		issues := make([]map[string]any, 0, len(validation.Issues))
		for _, issue := range validation.Issues {
			entry := map[string]any{"code": issue.Code, "message": issue.Message}
			if issue.PositionID != "" {
				entry["position_id"] = issue.PositionID
			}
			issues = append(issues, entry)
		}
		httpx.WriteError(ctx, w, httpx.NewError("checkout_invalid", "order cannot be checked out", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"issues": issues}))
	case errors.Is(err, services.ErrDiscountCodeNotValid):
		httpx.WriteError(ctx, w, httpx.NewError("code_not_valid", "discount code is not valid", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrDiscountCodeAlreadyPresent):
		httpx.WriteError(ctx, w, httpx.NewError("code_already_present", "discount code is already in use", http.StatusConflict))
	case errors.Is(err, services.ErrDiscountReservationFailed):
		httpx.WriteError(ctx, w, httpx.NewError("code_not_valid", "discount could not be reserved", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrDiscountNotFound),
		errors.Is(err, services.ErrPaymentNotFound),
		errors.Is(err, services.ErrDeliveryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidState),
		errors.Is(err, services.ErrPaymentInvalidState),
		errors.Is(err, services.ErrDeliveryInvalidState),
		errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrProviderFailed):
		httpx.WriteError(ctx, w, httpx.NewError("provider_failed", "provider request failed", http.StatusBadGateway))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "request timed out", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal", "internal server error", http.StatusInternalServerError))
	}
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError("unavailable", name+" unavailable", http.StatusServiceUnavailable))
}
