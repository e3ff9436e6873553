package memory

import (
	"context"
	"maps"
	"slices"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

type discountRepo struct{ s *Store }

func (r discountRepo) Insert(_ context.Context, discount domain.OrderDiscount) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.discounts[discount.ID]; exists {
		return repositories.NewConflict("discounts.insert", "discount %s already exists", discount.ID)
	}
	if discount.Code != "" {
		for _, existing := range r.s.discounts {
			if existing.Code != discount.Code || existing.IsUnbound() {
				continue
			}
			if discount.OrderID == nil || !existing.BoundTo(*discount.OrderID) {
				return repositories.NewConflict("discounts.insert", "code %s is bound to another order", discount.Code)
			}
		}
	}
	r.s.track(discount.ID)
	r.s.discounts[discount.ID] = cloneDiscount(discount)
	return nil
}

func (r discountRepo) Delete(_ context.Context, discountID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.discounts[discountID]; !exists {
		return repositories.NewNotFound("discounts.delete", "discount %s not found", discountID)
	}
	delete(r.s.discounts, discountID)
	return nil
}

func (r discountRepo) FindByID(_ context.Context, discountID string) (domain.OrderDiscount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	discount, ok := r.s.discounts[discountID]
	if !ok {
		return domain.OrderDiscount{}, repositories.NewNotFound("discounts.find", "discount %s not found", discountID)
	}
	return cloneDiscount(discount), nil
}

func (r discountRepo) ListByOrder(_ context.Context, orderID string) ([]domain.OrderDiscount, error) {
	return r.list(func(d domain.OrderDiscount) bool { return d.BoundTo(orderID) }), nil
}

func (r discountRepo) FindByCode(_ context.Context, code string) ([]domain.OrderDiscount, error) {
	return r.list(func(d domain.OrderDiscount) bool { return d.Code == code }), nil
}

func (r discountRepo) FindByCodeAndOrder(_ context.Context, code string, orderID string) (domain.OrderDiscount, error) {
	matches := r.list(func(d domain.OrderDiscount) bool { return d.Code == code && d.BoundTo(orderID) })
	if len(matches) == 0 {
		return domain.OrderDiscount{}, repositories.NewNotFound("discounts.findByCodeAndOrder", "code %s not on order %s", code, orderID)
	}
	return matches[0], nil
}

func (r discountRepo) FindUnboundByCode(_ context.Context, code string) (domain.OrderDiscount, error) {
	matches := r.list(func(d domain.OrderDiscount) bool { return d.Code == code && d.IsUnbound() })
	if len(matches) == 0 {
		return domain.OrderDiscount{}, repositories.NewNotFound("discounts.findUnbound", "no unbound discount for code %s", code)
	}
	return matches[0], nil
}

func (r discountRepo) Claim(_ context.Context, discountID string, orderID string, expectedVersion int64, now time.Time) (domain.OrderDiscount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	discount, ok := r.s.discounts[discountID]
	if !ok {
		return domain.OrderDiscount{}, repositories.NewNotFound("discounts.claim", "discount %s not found", discountID)
	}
	if !discount.IsUnbound() || discount.Version != expectedVersion {
		return domain.OrderDiscount{}, repositories.NewConflict("discounts.claim", "discount %s was claimed concurrently", discountID)
	}
	id := orderID
	discount.OrderID = &id
	discount.Version++
	discount.UpdatedAt = now
	r.s.discounts[discountID] = discount
	return cloneDiscount(discount), nil
}

func (r discountRepo) Unclaim(_ context.Context, discountID string, orderID string, claimedVersion int64, now time.Time) (domain.OrderDiscount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	discount, ok := r.s.discounts[discountID]
	if !ok {
		return domain.OrderDiscount{}, repositories.NewNotFound("discounts.unclaim", "discount %s not found", discountID)
	}
	if !discount.BoundTo(orderID) || discount.Version != claimedVersion {
		return domain.OrderDiscount{}, repositories.NewConflict("discounts.unclaim", "discount %s changed since claim", discountID)
	}
	discount.OrderID = nil
	discount.Reservation = nil
	discount.Version++
	discount.UpdatedAt = now
	r.s.discounts[discountID] = discount
	return cloneDiscount(discount), nil
}

func (r discountRepo) UpdateReservation(_ context.Context, discountID string, reservation map[string]any, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	discount, ok := r.s.discounts[discountID]
	if !ok {
		return repositories.NewNotFound("discounts.updateReservation", "discount %s not found", discountID)
	}
	discount.Reservation = maps.Clone(reservation)
	discount.UpdatedAt = now
	r.s.discounts[discountID] = discount
	return nil
}

func (r discountRepo) list(match func(domain.OrderDiscount) bool) []domain.OrderDiscount {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.OrderDiscount, 0)
	for _, discount := range r.s.discounts {
		if match(discount) {
			out = append(out, cloneDiscount(discount))
		}
	}
	slices.SortFunc(out, func(a, b domain.OrderDiscount) int {
		return r.s.compare(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	return out
}
