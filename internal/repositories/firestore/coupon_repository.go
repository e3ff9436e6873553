package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

type redemptionDocument struct {
	Code      string    `firestore:"code"`
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// CouponRedemptionRepository counts coupon redemptions, one document per code and order.
type CouponRedemptionRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[redemptionDocument]
}

// NewCouponRedemptionRepository constructs a Firestore-backed redemption ledger.
func NewCouponRedemptionRepository(provider *pfirestore.Provider) (*CouponRedemptionRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon redemption repository requires firestore provider")
	}
	return &CouponRedemptionRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[redemptionDocument](provider, redemptionsCollection),
	}, nil
}

func redemptionID(code, orderID string) string {
	return strings.ToLower(code) + "_" + orderID
}

// ReserveRedemption is idempotent per order. maxRedemptions <= 0 means unlimited.
func (r *CouponRedemptionRepository) ReserveRedemption(ctx context.Context, code string, orderID string, maxRedemptions int) (string, error) {
	id := redemptionID(code, orderID)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		if _, err := tx.Get(ref); err == nil {
			return nil
		} else if status.Code(err) != codes.NotFound {
			return err
		}
		if maxRedemptions > 0 {
			existing, err := tx.Documents(ref.Parent.Where("code", "==", code)).GetAll()
			if err != nil {
				return err
			}
			if len(existing) >= maxRedemptions {
				return repositories.NewConflict("coupons.reserve", "coupon %s exhausted", code)
			}
		}
		return tx.Create(ref, redemptionDocument{Code: code, OrderID: orderID, CreatedAt: time.Now().UTC()})
	})
	if err != nil {
		return "", wrapStoreError("coupons.reserve", err)
	}
	return id, nil
}

func (r *CouponRedemptionRepository) ReleaseRedemption(ctx context.Context, code string, orderID string) error {
	ref, err := r.base.DocumentRef(ctx, redemptionID(code, orderID))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("coupons.release", err)
	}
	return nil
}
