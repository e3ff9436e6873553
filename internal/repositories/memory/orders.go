package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[order.ID]; exists {
		return repositories.NewConflict("orders.insert", "order %s already exists", order.ID)
	}
	r.s.track(order.ID)
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepo) Update(_ context.Context, order domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[order.ID]; !exists {
		return repositories.NewNotFound("orders.update", "order %s not found", order.ID)
	}
	r.s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepo) Delete(_ context.Context, orderID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[orderID]; !exists {
		return repositories.NewNotFound("orders.delete", "order %s not found", orderID)
	}
	delete(r.s.orders, orderID)
	return nil
}

func (r orderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFound("orders.find", "order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r orderRepo) FindOpenByUser(_ context.Context, userID string, country string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *domain.Order
	for _, order := range r.s.orders {
		if order.UserID != userID || !order.IsCart() || !strings.EqualFold(order.Country, country) {
			continue
		}
		if found == nil || order.CreatedAt.After(found.CreatedAt) {
			o := order
			found = &o
		}
	}
	if found == nil {
		return domain.Order{}, repositories.NewNotFound("orders.findOpen", "no open order for user %s in %s", userID, country)
	}
	return cloneOrder(*found), nil
}

type positionRepo struct{ s *Store }

func (r positionRepo) Insert(_ context.Context, position domain.OrderPosition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.positions[position.ID]; exists {
		return repositories.NewConflict("positions.insert", "position %s already exists", position.ID)
	}
	r.s.track(position.ID)
	r.s.positions[position.ID] = clonePosition(position)
	return nil
}

func (r positionRepo) Update(_ context.Context, position domain.OrderPosition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.positions[position.ID]; !exists {
		return repositories.NewNotFound("positions.update", "position %s not found", position.ID)
	}
	r.s.positions[position.ID] = clonePosition(position)
	return nil
}

func (r positionRepo) Delete(_ context.Context, positionID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.positions[positionID]; !exists {
		return repositories.NewNotFound("positions.delete", "position %s not found", positionID)
	}
	delete(r.s.positions, positionID)
	return nil
}

func (r positionRepo) FindByID(_ context.Context, positionID string) (domain.OrderPosition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	position, ok := r.s.positions[positionID]
	if !ok {
		return domain.OrderPosition{}, repositories.NewNotFound("positions.find", "position %s not found", positionID)
	}
	return clonePosition(position), nil
}

func (r positionRepo) ListByOrder(_ context.Context, orderID string) ([]domain.OrderPosition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.OrderPosition, 0)
	for _, position := range r.s.positions {
		if position.OrderID == orderID {
			out = append(out, clonePosition(position))
		}
	}
	slices.SortFunc(out, func(a, b domain.OrderPosition) int {
		return r.s.compare(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return out, nil
}

// compare orders by timestamp, then insertion order.
func (s *Store) compare(ta, tb time.Time, idA, idB string) int {
	if c := ta.Compare(tb); c != 0 {
		return c
	}
	switch sa, sb := s.inserted[idA], s.inserted[idB]; {
	case sa < sb:
		return -1
	case sa > sb:
		return 1
	}
	return strings.Compare(idA, idB)
}
