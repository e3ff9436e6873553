package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/discounts"
	"github.com/hanko-field/commerce/internal/pricing"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	discountIDPrefix = "dsc_"

	grabOutcomeExisting       = "existing"
	grabOutcomeCreated        = "created"
	grabOutcomeClaimed        = "claimed"
	grabOutcomeNotValid       = "not_valid"
	grabOutcomeAlreadyPresent = "already_present"
	grabOutcomeReserveFailed  = "reserve_failed"
)

// DiscountServiceDeps bundles collaborators required to construct the discount service.
type DiscountServiceDeps struct {
	Discounts   repositories.OrderDiscountRepository
	Director    *discounts.Director
	Clock       func() time.Time
	IDGenerator func() string
	// GrabOutcomes counts code redemption attempts by outcome.
	GrabOutcomes metric.Int64Counter
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type discountService struct {
	discounts repositories.OrderDiscountRepository
	director  *discounts.Director
	clock     func() time.Time
	newID     func() string
	outcomes  metric.Int64Counter
	logger    func(context.Context, string, map[string]any)
}

// NewDiscountService wires dependencies into a concrete DiscountService implementation.
func NewDiscountService(deps DiscountServiceDeps) (DiscountService, error) {
	if deps.Discounts == nil {
		return nil, errors.New("discount service: discount repository is required")
	}
	if deps.Director == nil {
		return nil, errors.New("discount service: discount director is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &discountService{
		discounts: deps.Discounts,
		director:  deps.Director,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:    idGen,
		outcomes: deps.GrabOutcomes,
		logger:   logger,
	}, nil
}

// CreateManualOrderDiscount returns the discount already carrying the code on this order,
// otherwise claims a pre-issued unbound record or creates a fresh one. The reservation runs
// strictly after the claim and a failed reservation undoes it.
func (s *discountService) CreateManualOrderDiscount(ctx context.Context, order Order, code string) (OrderDiscount, error) {
	code = discounts.NormalizeCode(code)
	if code == "" {
		return OrderDiscount{}, fmt.Errorf("%w: discount code is required", ErrOrderInvalidInput)
	}
	if !order.IsCart() {
		return OrderDiscount{}, fmt.Errorf("%w: discounts can only change while the order is open", ErrOrderInvalidState)
	}

	existing, err := s.discounts.FindByCodeAndOrder(ctx, code, order.ID)
	switch {
	case err == nil:
		s.recordGrab(ctx, grabOutcomeExisting)
		return existing, nil
	case !repositories.IsNotFound(err):
		return OrderDiscount{}, mapRepositoryError(err, ErrDiscountNotFound, ErrDiscountCodeAlreadyPresent)
	}

	unbound, err := s.discounts.FindUnboundByCode(ctx, code)
	switch {
	case err == nil:
		return s.claim(ctx, order, unbound)
	case !repositories.IsNotFound(err):
		return OrderDiscount{}, mapRepositoryError(err, ErrDiscountNotFound, ErrDiscountCodeAlreadyPresent)
	}

	if err := s.ensureCodeFree(ctx, code, order.ID); err != nil {
		return OrderDiscount{}, err
	}

	key, ok := s.director.ResolveDiscountKeyFromStaticCode(ctx, s.discountContext(order, nil), code)
	if !ok {
		s.recordGrab(ctx, grabOutcomeNotValid)
		return OrderDiscount{}, fmt.Errorf("%w: %s", ErrDiscountCodeNotValid, code)
	}
	adapter, _ := s.director.Adapter(key)

	now := s.clock()
	orderID := order.ID
	discount := OrderDiscount{
		ID:          discountIDPrefix + s.newID(),
		OrderID:     &orderID,
		DiscountKey: key,
		Trigger:     domain.DiscountTriggerUser,
		Code:        code,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.discounts.Insert(ctx, discount); err != nil {
		if repositories.IsConflict(err) {
			s.recordGrab(ctx, grabOutcomeAlreadyPresent)
			return OrderDiscount{}, fmt.Errorf("%w: %s", ErrDiscountCodeAlreadyPresent, code)
		}
		return OrderDiscount{}, mapRepositoryError(err, ErrDiscountNotFound, ErrDiscountCodeAlreadyPresent)
	}

	reservation, err := adapter.Reserve(ctx, s.discountContext(order, &discount))
	if err != nil {
		if delErr := s.discounts.Delete(ctx, discount.ID); delErr != nil {
			s.logger(ctx, "discount.rollback.failed", map[string]any{
				"discountId": discount.ID,
				"orderId":    order.ID,
				"error":      delErr.Error(),
			})
		}
		s.recordGrab(ctx, grabOutcomeReserveFailed)
		s.logger(ctx, "discount.reserve.failed", map[string]any{
			"discountId": discount.ID,
			"orderId":    order.ID,
			"adapter":    key,
			"error":      err.Error(),
		})
		return OrderDiscount{}, fmt.Errorf("%w: %w", ErrDiscountReservationFailed, err)
	}

	if err := s.storeReservation(ctx, &discount, reservation); err != nil {
		s.releaseUnrecorded(ctx, adapter, order, discount, reservation)
		if delErr := s.discounts.Delete(ctx, discount.ID); delErr != nil {
			s.logger(ctx, "discount.rollback.failed", map[string]any{
				"discountId": discount.ID,
				"orderId":    order.ID,
				"error":      delErr.Error(),
			})
		}
		s.recordGrab(ctx, grabOutcomeReserveFailed)
		return OrderDiscount{}, err
	}
	s.recordGrab(ctx, grabOutcomeCreated)
	return discount, nil
}

func (s *discountService) claim(ctx context.Context, order Order, unbound OrderDiscount) (OrderDiscount, error) {
	claimed, err := s.discounts.Claim(ctx, unbound.ID, order.ID, unbound.Version, s.clock())
	if err != nil {
		if repositories.IsConflict(err) {
			s.recordGrab(ctx, grabOutcomeAlreadyPresent)
			return OrderDiscount{}, fmt.Errorf("%w: %s", ErrDiscountCodeAlreadyPresent, unbound.Code)
		}
		return OrderDiscount{}, mapRepositoryError(err, ErrDiscountNotFound, ErrDiscountCodeAlreadyPresent)
	}

	adapter, ok := s.director.Adapter(claimed.DiscountKey)
	if !ok {
		s.unclaim(ctx, claimed, order.ID)
		s.recordGrab(ctx, grabOutcomeNotValid)
		return OrderDiscount{}, fmt.Errorf("%w: no adapter %q for code %s", ErrDiscountCodeNotValid, claimed.DiscountKey, claimed.Code)
	}

	reservation, err := adapter.Reserve(ctx, s.discountContext(order, &claimed))
	if err != nil {
		s.unclaim(ctx, claimed, order.ID)
		s.recordGrab(ctx, grabOutcomeReserveFailed)
		s.logger(ctx, "discount.reserve.failed", map[string]any{
			"discountId": claimed.ID,
			"orderId":    order.ID,
			"adapter":    claimed.DiscountKey,
			"error":      err.Error(),
		})
		return OrderDiscount{}, fmt.Errorf("%w: %w", ErrDiscountReservationFailed, err)
	}

	if err := s.storeReservation(ctx, &claimed, reservation); err != nil {
		s.releaseUnrecorded(ctx, adapter, order, claimed, reservation)
		s.unclaim(ctx, claimed, order.ID)
		s.recordGrab(ctx, grabOutcomeReserveFailed)
		return OrderDiscount{}, err
	}
	s.recordGrab(ctx, grabOutcomeClaimed)
	return claimed, nil
}

// unclaim returns a claimed record to the pool. A lost precondition means another writer
// touched the record since the claim; it is logged and left alone.
func (s *discountService) unclaim(ctx context.Context, claimed OrderDiscount, orderID string) {
	if _, err := s.discounts.Unclaim(ctx, claimed.ID, orderID, claimed.Version, s.clock()); err != nil {
		s.logger(ctx, "discount.unclaim.failed", map[string]any{
			"discountId": claimed.ID,
			"orderId":    orderID,
			"version":    claimed.Version,
			"error":      err.Error(),
		})
	}
}

func (s *discountService) ensureCodeFree(ctx context.Context, code string, orderID string) error {
	records, err := s.discounts.FindByCode(ctx, code)
	if err != nil {
		return mapRepositoryError(err, ErrDiscountNotFound, ErrDiscountCodeAlreadyPresent)
	}
	for _, record := range records {
		if !record.IsUnbound() && !record.BoundTo(orderID) {
			s.recordGrab(ctx, grabOutcomeAlreadyPresent)
			return fmt.Errorf("%w: %s", ErrDiscountCodeAlreadyPresent, code)
		}
	}
	return nil
}

// releaseUnrecorded hands back a reservation whose write to the discount record failed.
func (s *discountService) releaseUnrecorded(ctx context.Context, adapter discounts.Adapter, order Order, discount OrderDiscount, reservation map[string]any) {
	discount.Reservation = reservation
	if err := adapter.Release(ctx, s.discountContext(order, &discount)); err != nil {
		s.logger(ctx, "discount.release.failed", map[string]any{
			"discountId": discount.ID,
			"orderId":    order.ID,
			"adapter":    discount.DiscountKey,
			"error":      err.Error(),
		})
	}
}

func (s *discountService) storeReservation(ctx context.Context, discount *OrderDiscount, reservation map[string]any) error {
	if len(reservation) == 0 {
		return nil
	}
	now := s.clock()
	if err := s.discounts.UpdateReservation(ctx, discount.ID, reservation, now); err != nil {
		return mapRepositoryError(err, ErrDiscountNotFound, ErrOrderConflict)
	}
	discount.Reservation = reservation
	discount.UpdatedAt = now
	return nil
}

// UpdateDiscounts reconciles the discounts of an open order against its last calculation.
// Invalid discounts are released and removed, newly applicable system discounts created.
func (s *discountService) UpdateDiscounts(ctx context.Context, order Order) ([]OrderDiscount, error) {
	current, err := s.discounts.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, mapRepositoryError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	if !order.IsCart() {
		return current, nil
	}

	kept := make([]OrderDiscount, 0, len(current))
	present := make(map[string]bool, len(current))
	for _, discount := range current {
		if discount.Trigger == domain.DiscountTriggerSystem && present[discount.DiscountKey] {
			if err := s.discounts.Delete(ctx, discount.ID); err != nil && !repositories.IsNotFound(err) {
				return nil, mapRepositoryError(err, ErrDiscountNotFound, ErrOrderConflict)
			}
			continue
		}
		if s.isValid(ctx, order, discount) {
			kept = append(kept, discount)
			present[discount.DiscountKey] = true
			continue
		}
		if err := s.detach(ctx, order, discount); err != nil {
			s.logger(ctx, "discount.reconcile.failed", map[string]any{
				"discountId": discount.ID,
				"orderId":    order.ID,
				"error":      err.Error(),
			})
			kept = append(kept, discount)
			present[discount.DiscountKey] = true
			continue
		}
		s.logger(ctx, "discount.removed", map[string]any{
			"discountId": discount.ID,
			"orderId":    order.ID,
			"adapter":    discount.DiscountKey,
		})
	}

	for _, key := range s.director.FindSystemDiscounts(ctx, s.discountContext(order, nil)) {
		if present[key] {
			continue
		}
		now := s.clock()
		orderID := order.ID
		discount := OrderDiscount{
			ID:          discountIDPrefix + s.newID(),
			OrderID:     &orderID,
			DiscountKey: key,
			Trigger:     domain.DiscountTriggerSystem,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.discounts.Insert(ctx, discount); err != nil {
			return nil, mapRepositoryError(err, ErrDiscountNotFound, ErrOrderConflict)
		}
		kept = append(kept, discount)
		present[key] = true
		s.logger(ctx, "discount.system.attached", map[string]any{
			"discountId": discount.ID,
			"orderId":    order.ID,
			"adapter":    key,
		})
	}
	return kept, nil
}

// isValid keeps discounts whose adapter errors, so a flaky adapter cannot strip a redeemed code.
func (s *discountService) isValid(ctx context.Context, order Order, discount OrderDiscount) bool {
	adapter, ok := s.director.Adapter(discount.DiscountKey)
	if !ok {
		return false
	}
	valid, err := adapter.IsValid(ctx, s.discountContext(order, &discount))
	if err != nil {
		s.logger(ctx, "discount.validate.failed", map[string]any{
			"discountId": discount.ID,
			"adapter":    discount.DiscountKey,
			"error":      err.Error(),
		})
		return true
	}
	return valid
}

// RemoveDiscount detaches a discount from the order.
func (s *discountService) RemoveDiscount(ctx context.Context, order Order, discountID string) error {
	discountID = strings.TrimSpace(discountID)
	if discountID == "" {
		return fmt.Errorf("%w: discount id is required", ErrOrderInvalidInput)
	}
	if !order.IsCart() {
		return fmt.Errorf("%w: discounts can only change while the order is open", ErrOrderInvalidState)
	}
	discount, err := s.discounts.FindByID(ctx, discountID)
	if err != nil {
		return mapRepositoryError(err, ErrDiscountNotFound, ErrOrderConflict)
	}
	if !discount.BoundTo(order.ID) {
		return fmt.Errorf("%w: %s is not attached to order %s", ErrDiscountNotFound, discountID, order.ID)
	}
	return s.detach(ctx, order, discount)
}

// detach releases USER reservations, then returns issued codes to the pool and deletes
// everything else. SYSTEM discounts hold no reservation and are deleted directly.
func (s *discountService) detach(ctx context.Context, order Order, discount OrderDiscount) error {
	if discount.Trigger == domain.DiscountTriggerSystem {
		return s.delete(ctx, discount.ID)
	}

	if adapter, ok := s.director.Adapter(discount.DiscountKey); ok {
		if err := adapter.Release(ctx, s.discountContext(order, &discount)); err != nil {
			return fmt.Errorf("%w: release %s: %w", ErrProviderFailed, discount.ID, err)
		}
	}

	if discount.Issued {
		if _, err := s.discounts.Unclaim(ctx, discount.ID, order.ID, discount.Version, s.clock()); err != nil {
			return mapRepositoryError(err, ErrDiscountNotFound, ErrOrderConflict)
		}
		return nil
	}
	return s.delete(ctx, discount.ID)
}

func (s *discountService) delete(ctx context.Context, discountID string) error {
	if err := s.discounts.Delete(ctx, discountID); err != nil && !repositories.IsNotFound(err) {
		return mapRepositoryError(err, ErrDiscountNotFound, ErrOrderConflict)
	}
	return nil
}

// IssueCode stores an unbound single-use code that the first redeeming order claims.
func (s *discountService) IssueCode(ctx context.Context, cmd IssueDiscountCodeCommand) (OrderDiscount, error) {
	code := discounts.NormalizeCode(cmd.Code)
	if code == "" {
		return OrderDiscount{}, fmt.Errorf("%w: discount code is required", ErrOrderInvalidInput)
	}
	key := strings.TrimSpace(cmd.DiscountKey)
	if _, ok := s.director.Adapter(key); !ok {
		return OrderDiscount{}, fmt.Errorf("%w: unknown discount key %q", ErrOrderInvalidInput, cmd.DiscountKey)
	}

	now := s.clock()
	discount := OrderDiscount{
		ID:          discountIDPrefix + s.newID(),
		DiscountKey: key,
		Trigger:     domain.DiscountTriggerUser,
		Code:        code,
		Issued:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.discounts.Insert(ctx, discount); err != nil {
		return OrderDiscount{}, mapRepositoryError(err, ErrDiscountNotFound, ErrDiscountCodeAlreadyPresent)
	}
	s.logger(ctx, "discount.code.issued", map[string]any{
		"discountId": discount.ID,
		"adapter":    key,
	})
	return discount, nil
}

// Resolver evaluates discount configurations against the order as last calculated.
func (s *discountService) Resolver(order Order, attached []OrderDiscount) pricing.DiscountResolver {
	return &discountResolver{
		director:  s.director,
		order:     order,
		discounts: attached,
		sheet:     pricing.NewSheet(order.Currency, order.Calculation),
	}
}

func (s *discountService) discountContext(order Order, discount *OrderDiscount) discounts.Context {
	dc := discounts.Context{
		Order:    order,
		Discount: discount,
		Pricing:  pricing.NewSheet(order.Currency, order.Calculation),
	}
	if discount != nil {
		dc.Code = discount.Code
	}
	return dc
}

func (s *discountService) recordGrab(ctx context.Context, outcome string) {
	if s.outcomes == nil {
		return
	}
	s.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

type discountResolver struct {
	director  *discounts.Director
	order     Order
	discounts []OrderDiscount
	sheet     pricing.Sheet
}

func (r *discountResolver) DiscountsFor(ctx context.Context, pricingAdapterKey string) []pricing.Discount {
	var out []pricing.Discount
	for i := range r.discounts {
		discount := r.discounts[i]
		adapter, ok := r.director.Adapter(discount.DiscountKey)
		if !ok {
			continue
		}
		cfg := adapter.DiscountForPricingAdapterKey(ctx, discounts.Context{
			Order:    r.order,
			Discount: &discount,
			Code:     discount.Code,
			Pricing:  r.sheet,
		}, pricingAdapterKey)
		if cfg == nil {
			continue
		}
		out = append(out, pricing.Discount{
			ID:            discount.ID,
			DiscountKey:   discount.DiscountKey,
			Configuration: *cfg,
		})
	}
	return out
}
