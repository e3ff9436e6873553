package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

// AdminHandlers exposes staff operations.
type AdminHandlers struct {
	authn     *auth.Authenticator
	discounts services.DiscountService
}

// NewAdminHandlers constructs staff-only handlers.
func NewAdminHandlers(authn *auth.Authenticator, discounts services.DiscountService) *AdminHandlers {
	return &AdminHandlers{authn: authn, discounts: discounts}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
	}
	r.Post("/discount-codes", h.issueCode)
}

type issueCodeRequest struct {
	Code        string `json:"code"`
	DiscountKey string `json:"discount_key"`
}

func (h *AdminHandlers) issueCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.discounts == nil {
		writeUnavailable(ctx, w, "discount service")
		return
	}
	var req issueCodeRequest
	if !decodeBody(w, r, maxOrderBodySize, false, &req) {
		return
	}
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.DiscountKey) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code and discount_key are required", http.StatusBadRequest))
		return
	}

	discount, err := h.discounts.IssueCode(ctx, services.IssueDiscountCodeCommand{
		Code:        req.Code,
		DiscountKey: req.DiscountKey,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, discountResponse{Discount: buildDiscountPayload(discount)})
}
