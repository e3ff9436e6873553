package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/delivery"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	deliveryIDPrefix = "dlv_"
	sentAtKey        = "sentAt"
)

// DeliveryServiceDeps bundles collaborators required to construct the delivery service.
type DeliveryServiceDeps struct {
	Deliveries  repositories.OrderDeliveryRepository
	Registry    *delivery.Registry
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type deliveryService struct {
	deliveries repositories.OrderDeliveryRepository
	registry   *delivery.Registry
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewDeliveryService wires dependencies into a concrete DeliveryService implementation.
func NewDeliveryService(deps DeliveryServiceDeps) (DeliveryService, error) {
	if deps.Deliveries == nil {
		return nil, errors.New("delivery service: delivery repository is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("delivery service: provider registry is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &deliveryService{
		deliveries: deps.Deliveries,
		registry:   deps.Registry,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

func (s *deliveryService) Select(ctx context.Context, order Order, providerID string) (OrderDelivery, error) {
	provider, err := s.registry.Provider(providerID)
	if err != nil {
		return OrderDelivery{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	existing, err := s.deliveries.FindByOrderAndProvider(ctx, order.ID, provider.Key())
	if err == nil {
		return existing, nil
	}
	if !repositories.IsNotFound(err) {
		return OrderDelivery{}, mapRepositoryError(err, ErrDeliveryNotFound, ErrOrderConflict)
	}

	now := s.clock()
	created := OrderDelivery{
		ID:                 deliveryIDPrefix + s.newID(),
		OrderID:            order.ID,
		DeliveryProviderID: provider.Key(),
		Status:             domain.DeliveryStatusOpen,
		Context:            provider.DefaultContext(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.deliveries.Insert(ctx, created); err != nil {
		if repositories.IsConflict(err) {
			existing, err := s.deliveries.FindByOrderAndProvider(ctx, order.ID, provider.Key())
			return existing, mapRepositoryError(err, ErrDeliveryNotFound, ErrOrderConflict)
		}
		return OrderDelivery{}, mapRepositoryError(err, ErrDeliveryNotFound, ErrOrderConflict)
	}
	return created, nil
}

func (s *deliveryService) UpdateContext(ctx context.Context, deliveryID string, values map[string]any) (OrderDelivery, error) {
	current, provider, err := s.load(ctx, deliveryID)
	if err != nil {
		return OrderDelivery{}, err
	}
	transformed := make(map[string]any, len(values))
	for key, value := range values {
		if value == nil {
			transformed[key] = nil
			continue
		}
		out, err := provider.TransformContext(ctx, key, value)
		if err != nil {
			return OrderDelivery{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
		transformed[key] = out
	}
	current.Context = mergeContext(current.Context, transformed)
	current.UpdatedAt = s.clock()
	if err := s.deliveries.Update(ctx, current); err != nil {
		return OrderDelivery{}, mapRepositoryError(err, ErrDeliveryNotFound, ErrOrderConflict)
	}
	return current, nil
}

// Send hands the positions to the provider. Providers reporting an immediate handover move
// the delivery to DELIVERED. A delivery is sent at most once.
func (s *deliveryService) Send(ctx context.Context, order Order, deliveryID string, positions []OrderPosition) (OrderDelivery, error) {
	current, provider, err := s.load(ctx, deliveryID)
	if err != nil {
		return OrderDelivery{}, err
	}
	if current.OrderID != order.ID {
		return OrderDelivery{}, fmt.Errorf("%w: delivery %s does not belong to order %s", ErrDeliveryNotFound, current.ID, order.ID)
	}
	if current.CurrentStatus() != domain.DeliveryStatusOpen || current.Context[sentAtKey] != nil {
		return current, nil
	}

	result, err := provider.Send(ctx, delivery.SendRequest{Order: order, Delivery: current, Positions: positions})
	if err != nil {
		s.logger(ctx, "delivery.send.failed", map[string]any{
			"orderId":    order.ID,
			"deliveryId": current.ID,
			"provider":   provider.Key(),
			"error":      err.Error(),
		})
		return OrderDelivery{}, err
	}

	now := s.clock()
	info := map[string]any{sentAtKey: now.Format(time.RFC3339)}
	for key, value := range result.Info {
		info[key] = value
	}
	if result.TrackingID != "" {
		info["trackingId"] = result.TrackingID
	}
	current.Context = mergeContext(current.Context, info)
	if result.Delivered {
		current.Status = domain.DeliveryStatusDelivered
		if current.Delivered == nil {
			current.Delivered = &now
		}
		current.Log = append(current.Log, domain.StatusLogEntry{Date: now, Status: string(domain.DeliveryStatusDelivered), Info: "handed over"})
	} else {
		current.Log = append(current.Log, domain.StatusLogEntry{Date: now, Status: string(domain.DeliveryStatusOpen), Info: "sent"})
	}
	current.UpdatedAt = now
	if err := s.deliveries.Update(ctx, current); err != nil {
		return OrderDelivery{}, mapRepositoryError(err, ErrDeliveryNotFound, ErrOrderConflict)
	}
	s.logger(ctx, "delivery.sent", map[string]any{
		"orderId":    order.ID,
		"deliveryId": current.ID,
		"provider":   provider.Key(),
		"delivered":  result.Delivered,
	})
	return current, nil
}

func (s *deliveryService) MarkDelivered(ctx context.Context, cmd DeliveryStatusCommand) (OrderDelivery, error) {
	return s.transition(ctx, cmd, domain.DeliveryStatusDelivered, domain.DeliveryStatusOpen)
}

func (s *deliveryService) MarkReturned(ctx context.Context, cmd DeliveryStatusCommand) (OrderDelivery, error) {
	return s.transition(ctx, cmd, domain.DeliveryStatusReturned, domain.DeliveryStatusDelivered)
}

func (s *deliveryService) transition(ctx context.Context, cmd DeliveryStatusCommand, target, from domain.DeliveryStatus) (OrderDelivery, error) {
	current, err := s.findByID(ctx, cmd.DeliveryID)
	if err != nil {
		return OrderDelivery{}, err
	}
	status := current.CurrentStatus()
	if status == target {
		return current, nil
	}
	if status != from {
		return OrderDelivery{}, fmt.Errorf("%w: %s to %s", ErrDeliveryInvalidState, status, target)
	}

	now := s.clock()
	if len(cmd.Info) > 0 {
		current.Context = mergeContext(current.Context, cmd.Info)
	}
	current.Status = target
	if target == domain.DeliveryStatusDelivered && current.Delivered == nil {
		current.Delivered = &now
	}
	current.Log = append(current.Log, domain.StatusLogEntry{Date: now, Status: string(target), Info: infoString(cmd.Info)})
	current.UpdatedAt = now
	if err := s.deliveries.Update(ctx, current); err != nil {
		return OrderDelivery{}, mapRepositoryError(err, ErrDeliveryNotFound, ErrOrderConflict)
	}
	s.logger(ctx, "delivery.status.changed", map[string]any{
		"deliveryId": current.ID,
		"orderId":    current.OrderID,
		"from":       string(status),
		"to":         string(target),
	})
	return current, nil
}

// BlocksConfirmation holds an order for staff release unless the provider allows auto release.
func (s *deliveryService) BlocksConfirmation(ctx context.Context, order Order, current OrderDelivery) bool {
	provider, err := s.registry.Provider(current.DeliveryProviderID)
	if err != nil {
		return true
	}
	return !provider.IsAutoReleaseAllowed(ctx, order, current)
}

func (s *deliveryService) BlocksFulfillment(_ context.Context, _ Order, current OrderDelivery) bool {
	return current.CurrentStatus() != domain.DeliveryStatusDelivered
}

func (s *deliveryService) load(ctx context.Context, deliveryID string) (OrderDelivery, delivery.Provider, error) {
	current, err := s.findByID(ctx, deliveryID)
	if err != nil {
		return OrderDelivery{}, nil, err
	}
	provider, err := s.registry.Provider(current.DeliveryProviderID)
	if err != nil {
		return OrderDelivery{}, nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	return current, provider, nil
}

func (s *deliveryService) findByID(ctx context.Context, deliveryID string) (OrderDelivery, error) {
	deliveryID = strings.TrimSpace(deliveryID)
	if deliveryID == "" {
		return OrderDelivery{}, fmt.Errorf("%w: delivery id is required", ErrOrderInvalidInput)
	}
	current, err := s.deliveries.FindByID(ctx, deliveryID)
	if err != nil {
		return OrderDelivery{}, mapRepositoryError(err, ErrDeliveryNotFound, ErrOrderConflict)
	}
	return current, nil
}
