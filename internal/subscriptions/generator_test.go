package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories/memory"
	"github.com/hanko-field/commerce/internal/services"
)

var confirmedAt = time.Date(2025, 1, 31, 9, 0, 0, 0, time.UTC)

func TestGenerateSpawnsPlanPositionsOnly(t *testing.T) {
	store := memory.NewStore()
	gen, err := NewGenerator(store.Subscriptions(), func() time.Time { return confirmedAt })
	require.NoError(t, err)

	order := domain.Order{ID: "ord_1", UserID: "user-1"}
	items := []services.SubscriptionItem{
		{
			Position: domain.OrderPosition{ID: "pos_1", OrderID: "ord_1", ProductID: "box", Quantity: 2},
			Product:  domain.Product{ID: "box", SubscriptionPlan: &domain.SubscriptionPlan{Interval: domain.SubscriptionIntervalMonth, IntervalCount: 1}},
		},
		{
			Position: domain.OrderPosition{ID: "pos_2", OrderID: "ord_1", ProductID: "stamp", Quantity: 1},
			Product:  domain.Product{ID: "stamp"},
		},
	}

	subs, err := gen.Generate(context.Background(), order, items)
	require.NoError(t, err)
	require.Len(t, subs, 1)

	sub := subs[0]
	assert.Equal(t, "sub_pos_1", sub.ID)
	assert.Equal(t, "user-1", sub.UserID)
	assert.Equal(t, 2, sub.Quantity)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Equal(t, confirmedAt, sub.PeriodStart)
	assert.Equal(t, time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC), sub.PeriodEnd)
	assert.Nil(t, sub.TrialEnd)
}

func TestGenerateIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	gen, err := NewGenerator(store.Subscriptions(), func() time.Time { return confirmedAt })
	require.NoError(t, err)

	order := domain.Order{ID: "ord_1", UserID: "user-1"}
	items := []services.SubscriptionItem{{
		Position: domain.OrderPosition{ID: "pos_1", OrderID: "ord_1", Quantity: 1},
		Product:  domain.Product{ID: "box", SubscriptionPlan: &domain.SubscriptionPlan{Interval: domain.SubscriptionIntervalWeek, IntervalCount: 2}},
	}}

	first, err := gen.Generate(context.Background(), order, items)
	require.NoError(t, err)
	second, err := gen.Generate(context.Background(), order, items)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stored, err := store.Subscriptions().ListByOrder(context.Background(), "ord_1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestGenerateStartsPeriodAfterTrial(t *testing.T) {
	store := memory.NewStore()
	gen, err := NewGenerator(store.Subscriptions(), func() time.Time { return confirmedAt })
	require.NoError(t, err)

	subs, err := gen.Generate(context.Background(), domain.Order{ID: "ord_1"}, []services.SubscriptionItem{{
		Position: domain.OrderPosition{ID: "pos_1", Quantity: 1},
		Product:  domain.Product{ID: "box", SubscriptionPlan: &domain.SubscriptionPlan{Interval: domain.SubscriptionIntervalYear, TrialDays: 14}},
	}})
	require.NoError(t, err)
	require.Len(t, subs, 1)

	trialEnd := confirmedAt.AddDate(0, 0, 14)
	require.NotNil(t, subs[0].TrialEnd)
	assert.Equal(t, trialEnd, *subs[0].TrialEnd)
	assert.Equal(t, StatusTrialing, subs[0].Status)
	assert.Equal(t, trialEnd, subs[0].PeriodStart)
	assert.Equal(t, trialEnd.AddDate(1, 0, 0), subs[0].PeriodEnd)
}

func TestPeriodEndRejectsUnknownInterval(t *testing.T) {
	_, err := PeriodEnd(confirmedAt, domain.SubscriptionPlan{Interval: "FORTNIGHTS"})
	assert.Error(t, err)
}

func TestNewGeneratorRequiresRepository(t *testing.T) {
	_, err := NewGenerator(nil, nil)
	assert.Error(t, err)
}
