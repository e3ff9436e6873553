package discounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hanko-field/commerce/internal/pricing"
	"github.com/hanko-field/commerce/internal/pricing/rules"
)

// CouponKey identifies the static coupon adapter.
const CouponKey = "coupon"

// ErrCouponExhausted is returned by ledgers when a coupon has no redemptions left.
var ErrCouponExhausted = errors.New("discounts: coupon exhausted")

// Coupon is a statically configured code.
type Coupon struct {
	Code        string
	Rate        decimal.Decimal
	FixedAmount int64
	// MaxRedemptions of zero means unlimited.
	MaxRedemptions int
	ValidUntil     *time.Time
}

// CouponLedger tracks redemption balances of coupons.
type CouponLedger interface {
	ReserveRedemption(ctx context.Context, code string, orderID string, maxRedemptions int) (string, error)
	ReleaseRedemption(ctx context.Context, code string, orderID string) error
}

// CouponAdapter redeems statically configured codes, decrementing the coupon balance on reserve.
type CouponAdapter struct {
	coupons map[string]Coupon
	ledger  CouponLedger
	now     func() time.Time
}

// NewCouponAdapter normalises codes to upper case.
func NewCouponAdapter(coupons []Coupon, ledger CouponLedger, now func() time.Time) *CouponAdapter {
	if now == nil {
		now = time.Now
	}
	byCode := make(map[string]Coupon, len(coupons))
	for _, coupon := range coupons {
		code := NormalizeCode(coupon.Code)
		if code == "" {
			continue
		}
		coupon.Code = code
		byCode[code] = coupon
	}
	return &CouponAdapter{coupons: byCode, ledger: ledger, now: now}
}

func (a *CouponAdapter) Key() string { return CouponKey }

func (a *CouponAdapter) IsManualAdditionAllowed(_ context.Context, code string) (bool, error) {
	_, ok := a.coupons[NormalizeCode(code)]
	return ok, nil
}

func (a *CouponAdapter) IsValidForCodeTriggering(_ context.Context, dc Context) (bool, error) {
	coupon, ok := a.coupons[NormalizeCode(dc.Code)]
	if !ok {
		return false, nil
	}
	return a.active(coupon), nil
}

func (a *CouponAdapter) IsValidForSystemTriggering(context.Context, Context) (bool, error) {
	return false, nil
}

func (a *CouponAdapter) IsValid(_ context.Context, dc Context) (bool, error) {
	coupon, ok := a.coupons[NormalizeCode(codeOf(dc))]
	if !ok {
		return false, nil
	}
	return a.active(coupon), nil
}

func (a *CouponAdapter) Reserve(ctx context.Context, dc Context) (map[string]any, error) {
	code := NormalizeCode(codeOf(dc))
	coupon, ok := a.coupons[code]
	if !ok {
		return nil, errors.New("discounts: unknown coupon")
	}
	if a.ledger == nil || coupon.MaxRedemptions == 0 {
		return map[string]any{"code": code}, nil
	}
	redemptionID, err := a.ledger.ReserveRedemption(ctx, code, dc.Order.ID, coupon.MaxRedemptions)
	if err != nil {
		return nil, err
	}
	return map[string]any{"code": code, "redemptionId": redemptionID}, nil
}

func (a *CouponAdapter) Release(ctx context.Context, dc Context) error {
	code := NormalizeCode(codeOf(dc))
	coupon, ok := a.coupons[code]
	if !ok || a.ledger == nil || coupon.MaxRedemptions == 0 {
		return nil
	}
	return a.ledger.ReleaseRedemption(ctx, code, dc.Order.ID)
}

func (a *CouponAdapter) DiscountForPricingAdapterKey(_ context.Context, dc Context, pricingAdapterKey string) *pricing.DiscountConfiguration {
	coupon, ok := a.coupons[NormalizeCode(codeOf(dc))]
	if !ok {
		return nil
	}
	switch {
	case coupon.Rate.IsPositive() && pricingAdapterKey == rules.KeyItemDiscount:
		return &pricing.DiscountConfiguration{Rate: coupon.Rate}
	case coupon.FixedAmount > 0 && pricingAdapterKey == rules.KeyOrderDiscount:
		return &pricing.DiscountConfiguration{FixedAmount: coupon.FixedAmount}
	}
	return nil
}

func (a *CouponAdapter) active(coupon Coupon) bool {
	return coupon.ValidUntil == nil || a.now().Before(*coupon.ValidUntil)
}

// NormalizeCode trims and upper-cases a human entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func codeOf(dc Context) string {
	if dc.Discount != nil && dc.Discount.Code != "" {
		return dc.Discount.Code
	}
	return dc.Code
}
