// Package subscriptions spawns recurring subscriptions from confirmed order positions.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/services"
)

// Subscription statuses.
const (
	StatusActive   = "ACTIVE"
	StatusTrialing = "TRIALING"

	idPrefix = "sub_"
)

// Generator persists one subscription per plan position. Re-running for the same order
// returns the existing records instead of creating duplicates.
type Generator struct {
	repo  repositories.SubscriptionRepository
	clock func() time.Time
}

var _ services.SubscriptionGenerator = (*Generator)(nil)

// NewGenerator constructs a Generator. A nil clock falls back to time.Now.
func NewGenerator(repo repositories.SubscriptionRepository, clock func() time.Time) (*Generator, error) {
	if repo == nil {
		return nil, errors.New("subscriptions: repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Generator{repo: repo, clock: func() time.Time { return clock().UTC() }}, nil
}

// Generate creates subscriptions for items whose product carries a plan.
func (g *Generator) Generate(ctx context.Context, order domain.Order, items []services.SubscriptionItem) ([]domain.Subscription, error) {
	now := g.clock()
	out := make([]domain.Subscription, 0, len(items))
	for _, item := range items {
		plan := item.Product.SubscriptionPlan
		if plan == nil {
			continue
		}
		existing, err := g.repo.FindByPosition(ctx, item.Position.ID)
		switch {
		case err == nil:
			out = append(out, existing)
			continue
		case !repositories.IsNotFound(err):
			return out, fmt.Errorf("subscriptions: lookup %s: %w", item.Position.ID, err)
		}

		sub, err := build(order, item, *plan, now)
		if err != nil {
			return out, err
		}
		if err := g.repo.Insert(ctx, sub); err != nil {
			if repositories.IsConflict(err) {
				existing, findErr := g.repo.FindByPosition(ctx, item.Position.ID)
				if findErr == nil {
					out = append(out, existing)
					continue
				}
			}
			return out, fmt.Errorf("subscriptions: insert %s: %w", sub.ID, err)
		}
		out = append(out, sub)
	}
	return out, nil
}

func build(order domain.Order, item services.SubscriptionItem, plan domain.SubscriptionPlan, now time.Time) (domain.Subscription, error) {
	sub := domain.Subscription{
		ID:          idPrefix + item.Position.ID,
		UserID:      order.UserID,
		OrderID:     order.ID,
		PositionID:  item.Position.ID,
		ProductID:   item.Product.ID,
		Quantity:    item.Position.Quantity,
		Status:      StatusActive,
		PeriodStart: now,
		CreatedAt:   now,
	}
	if plan.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, plan.TrialDays)
		sub.TrialEnd = &trialEnd
		sub.Status = StatusTrialing
		sub.PeriodStart = trialEnd
	}
	end, err := PeriodEnd(sub.PeriodStart, plan)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("subscriptions: product %s: %w", item.Product.ID, err)
	}
	sub.PeriodEnd = end
	return sub, nil
}

// PeriodEnd advances start by one billing period of the plan.
func PeriodEnd(start time.Time, plan domain.SubscriptionPlan) (time.Time, error) {
	count := plan.IntervalCount
	if count <= 0 {
		count = 1
	}
	switch plan.Interval {
	case domain.SubscriptionIntervalDay:
		return start.AddDate(0, 0, count), nil
	case domain.SubscriptionIntervalWeek:
		return start.AddDate(0, 0, 7*count), nil
	case domain.SubscriptionIntervalMonth:
		return start.AddDate(0, count, 0), nil
	case domain.SubscriptionIntervalYear:
		return start.AddDate(count, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported interval %q", plan.Interval)
	}
}
