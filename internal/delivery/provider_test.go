package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/commerce/internal/domain"
)

type captureDispatcher struct {
	messages []DispatchMessage
	err      error
}

func (c *captureDispatcher) Dispatch(_ context.Context, message DispatchMessage) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.messages = append(c.messages, message)
	return "msg-1", nil
}

func TestShippingSendPublishesDispatch(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	dispatcher := &captureDispatcher{}
	provider, err := NewShippingProvider(ShippingConfig{Dispatcher: dispatcher, Clock: func() time.Time { return now }})
	require.NoError(t, err)

	result, err := provider.Send(context.Background(), SendRequest{
		Order:    domain.Order{ID: "ord_1", OrderNumber: "HC-2025-000001", BillingAddress: &domain.Address{Line1: "1-1", Country: "JP"}},
		Delivery: domain.OrderDelivery{ID: "dlv_1"},
		Positions: []domain.OrderPosition{
			{ID: "pos_1", ProductID: "prod_1", Quantity: 2},
			{ID: "pos_2", ProductID: "prod_2", Quantity: 0},
		},
	})
	require.NoError(t, err)
	require.False(t, result.Delivered)
	require.Equal(t, "msg-1", result.Info["dispatchMessageId"])

	require.Len(t, dispatcher.messages, 1)
	msg := dispatcher.messages[0]
	require.Equal(t, "HC-2025-000001", msg.OrderNumber)
	require.Equal(t, []DispatchItem{{PositionID: "pos_1", ProductID: "prod_1", Quantity: 2}}, msg.Items)
	require.Equal(t, now, msg.RequestedAt)
	require.Equal(t, "JP", msg.Address.Country)
}

func TestShippingSendPrefersDeliveryAddress(t *testing.T) {
	dispatcher := &captureDispatcher{}
	provider, err := NewShippingProvider(ShippingConfig{Dispatcher: dispatcher})
	require.NoError(t, err)

	_, err = provider.Send(context.Background(), SendRequest{
		Order: domain.Order{BillingAddress: &domain.Address{Line1: "billing", Country: "JP"}},
		Delivery: domain.OrderDelivery{Context: map[string]any{
			"address": map[string]any{"line1": "gift", "country": "de"},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, "gift", dispatcher.messages[0].Address.Line1)
	require.Equal(t, "DE", dispatcher.messages[0].Address.Country)
}

func TestShippingSendErrors(t *testing.T) {
	provider, err := NewShippingProvider(ShippingConfig{Dispatcher: &captureDispatcher{err: errors.New("unavailable")}})
	require.NoError(t, err)

	_, err = provider.Send(context.Background(), SendRequest{})
	require.Error(t, err)

	_, err = provider.Send(context.Background(), SendRequest{Order: domain.Order{BillingAddress: &domain.Address{Line1: "x", Country: "JP"}}})
	require.ErrorContains(t, err, "unavailable")

	_, err = NewShippingProvider(ShippingConfig{})
	require.Error(t, err)
}

func TestShippingRelease(t *testing.T) {
	ctx := context.Background()
	auto, err := NewShippingProvider(ShippingConfig{Dispatcher: &captureDispatcher{}})
	require.NoError(t, err)
	require.True(t, auto.IsAutoReleaseAllowed(ctx, domain.Order{}, domain.OrderDelivery{}))

	manual, err := NewShippingProvider(ShippingConfig{Dispatcher: &captureDispatcher{}, ManualRelease: true})
	require.NoError(t, err)
	require.False(t, manual.IsAutoReleaseAllowed(ctx, domain.Order{}, domain.OrderDelivery{}))
}

func TestRegistrySupported(t *testing.T) {
	shipping, err := NewShippingProvider(ShippingConfig{Dispatcher: &captureDispatcher{}, Countries: []string{"jp"}})
	require.NoError(t, err)
	registry, err := NewRegistry(shipping, PickupProvider{})
	require.NoError(t, err)

	supported := registry.Supported(context.Background(), domain.Order{Country: "JP"})
	require.Len(t, supported, 1)
	require.Equal(t, ShippingKey, supported[0].Key())

	_, err = registry.Provider("drone")
	require.ErrorIs(t, err, ErrUnsupportedProvider)

	_, err = NewRegistry(PickupProvider{}, PickupProvider{})
	require.Error(t, err)
}

func TestPickupTransformContext(t *testing.T) {
	provider := PickupProvider{Stores: []string{"tokyo", "osaka"}}
	require.Equal(t, "tokyo", provider.DefaultContext()["storeId"])

	value, err := provider.TransformContext(context.Background(), "storeId", "osaka")
	require.NoError(t, err)
	require.Equal(t, "osaka", value)

	_, err = provider.TransformContext(context.Background(), "storeId", "kyoto")
	require.Error(t, err)
}
