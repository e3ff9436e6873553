package discounts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/pricing"
	"github.com/hanko-field/commerce/internal/pricing/rules"
)

type failingAdapter struct {
	ThresholdAdapter
	key string
}

func (a failingAdapter) Key() string { return a.key }

func (a failingAdapter) IsManualAdditionAllowed(context.Context, string) (bool, error) {
	return false, errors.New("boom")
}

func (a failingAdapter) IsValidForSystemTriggering(context.Context, Context) (bool, error) {
	return false, errors.New("boom")
}

type recordingLedger struct {
	reserved map[string]int
	released []string
	fail     error
}

func (l *recordingLedger) ReserveRedemption(_ context.Context, code, orderID string, max int) (string, error) {
	if l.fail != nil {
		return "", l.fail
	}
	if l.reserved == nil {
		l.reserved = map[string]int{}
	}
	if l.reserved[code] >= max {
		return "", ErrCouponExhausted
	}
	l.reserved[code]++
	return code + ":" + orderID, nil
}

func (l *recordingLedger) ReleaseRedemption(_ context.Context, code, orderID string) error {
	l.released = append(l.released, code+":"+orderID)
	return nil
}

func orderSheet(items int64) pricing.Sheet {
	return pricing.NewSheet("JPY", []domain.PricingCalculation{
		{Category: domain.PricingCategoryItems, Amount: decimal.NewFromInt(items), Currency: "JPY"},
	})
}

func TestNewDirectorRejectsDuplicateKeys(t *testing.T) {
	_, err := NewDirector(nil, VoucherAdapter{}, VoucherAdapter{})
	require.Error(t, err)
}

func TestResolveDiscountKeyFromStaticCode(t *testing.T) {
	var events []string
	logger := func(_ context.Context, event string, _ map[string]any) { events = append(events, event) }
	coupons := NewCouponAdapter([]Coupon{{Code: "spring10", Rate: decimal.RequireFromString("0.1")}}, nil, nil)
	director, err := NewDirector(logger, failingAdapter{key: "broken"}, coupons, VoucherAdapter{})
	require.NoError(t, err)

	dc := Context{Order: domain.Order{ID: "ord_1", Currency: "JPY"}}
	key, ok := director.ResolveDiscountKeyFromStaticCode(context.Background(), dc, " Spring10 ")
	require.True(t, ok)
	assert.Equal(t, CouponKey, key)
	assert.Equal(t, []string{"discount.adapter.failed"}, events)

	_, ok = director.ResolveDiscountKeyFromStaticCode(context.Background(), dc, "UNKNOWN")
	assert.False(t, ok)
}

func TestResolveRejectsExpiredCoupon(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	coupons := NewCouponAdapter([]Coupon{{Code: "OLD", FixedAmount: 100, ValidUntil: &expired}}, nil, func() time.Time { return now })
	director, err := NewDirector(nil, coupons)
	require.NoError(t, err)

	_, ok := director.ResolveDiscountKeyFromStaticCode(context.Background(), Context{}, "OLD")
	assert.False(t, ok)
}

func TestFindSystemDiscounts(t *testing.T) {
	threshold := ThresholdAdapter{Thresholds: map[string]int64{"JPY": 10000}, Rate: decimal.RequireFromString("0.05")}
	director, err := NewDirector(nil, failingAdapter{key: "broken"}, threshold, VoucherAdapter{})
	require.NoError(t, err)

	order := domain.Order{ID: "ord_1", Currency: "JPY"}
	keys := director.FindSystemDiscounts(context.Background(), Context{Order: order, Pricing: orderSheet(9999)})
	assert.Empty(t, keys)

	keys = director.FindSystemDiscounts(context.Background(), Context{Order: order, Pricing: orderSheet(10000)})
	assert.Equal(t, []string{ThresholdKey}, keys)

	order.Currency = "EUR"
	keys = director.FindSystemDiscounts(context.Background(), Context{Order: order, Pricing: orderSheet(100000)})
	assert.Empty(t, keys)
}

func TestCouponReserveAndRelease(t *testing.T) {
	ledger := &recordingLedger{}
	coupons := NewCouponAdapter([]Coupon{{Code: "ONCE", FixedAmount: 500, MaxRedemptions: 1}}, ledger, nil)
	ctx := context.Background()

	first := Context{Order: domain.Order{ID: "ord_1"}, Discount: &domain.OrderDiscount{Code: "ONCE"}}
	reservation, err := coupons.Reserve(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "ONCE:ord_1", reservation["redemptionId"])

	second := Context{Order: domain.Order{ID: "ord_2"}, Discount: &domain.OrderDiscount{Code: "ONCE"}}
	_, err = coupons.Reserve(ctx, second)
	require.ErrorIs(t, err, ErrCouponExhausted)

	require.NoError(t, coupons.Release(ctx, first))
	assert.Equal(t, []string{"ONCE:ord_1"}, ledger.released)
}

func TestCouponUnlimitedSkipsLedger(t *testing.T) {
	ledger := &recordingLedger{fail: errors.New("unreachable")}
	coupons := NewCouponAdapter([]Coupon{{Code: "OPEN", Rate: decimal.RequireFromString("0.2")}}, ledger, nil)

	reservation, err := coupons.Reserve(context.Background(), Context{Code: "open"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"code": "OPEN"}, reservation)
}

func TestDiscountForPricingAdapterKey(t *testing.T) {
	ctx := context.Background()
	coupons := NewCouponAdapter([]Coupon{
		{Code: "RATE", Rate: decimal.RequireFromString("0.1")},
		{Code: "FIXED", FixedAmount: 300},
	}, nil, nil)

	rate := Context{Code: "RATE"}
	require.NotNil(t, coupons.DiscountForPricingAdapterKey(ctx, rate, rules.KeyItemDiscount))
	assert.Nil(t, coupons.DiscountForPricingAdapterKey(ctx, rate, rules.KeyOrderDiscount))

	fixed := Context{Code: "FIXED"}
	assert.Nil(t, coupons.DiscountForPricingAdapterKey(ctx, fixed, rules.KeyItemDiscount))
	config := coupons.DiscountForPricingAdapterKey(ctx, fixed, rules.KeyOrderDiscount)
	require.NotNil(t, config)
	assert.Equal(t, int64(300), config.FixedAmount)

	voucher := VoucherAdapter{Amounts: map[string]int64{"JPY": 1000}}
	jpy := Context{Order: domain.Order{Currency: "JPY"}}
	require.NotNil(t, voucher.DiscountForPricingAdapterKey(ctx, jpy, rules.KeyOrderDiscount))
	assert.Nil(t, voucher.DiscountForPricingAdapterKey(ctx, Context{Order: domain.Order{Currency: "EUR"}}, rules.KeyOrderDiscount))
}
