package warehousing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// StockKey identifies the stock-ledger warehousing provider.
const StockKey = "stock"

// ErrInsufficientStock is returned when an item cannot be fulfilled from stock.
var ErrInsufficientStock = errors.New("warehousing: insufficient stock")

// ItemRequest identifies one order position and its product.
type ItemRequest struct {
	Order    domain.Order
	Position domain.OrderPosition
	Product  domain.Product
}

// Provider schedules order positions against a source of goods.
type Provider interface {
	Key() string
	IsActive(ctx context.Context, product domain.Product) bool
	// Validate reports whether the position can currently be fulfilled.
	Validate(ctx context.Context, req ItemRequest) error
	// Reserve commits the position quantity and returns the scheduling entry to record.
	Reserve(ctx context.Context, req ItemRequest) (domain.SchedulingEntry, error)
}

// Registry holds warehousing providers in registration order.
type Registry struct {
	providers []Provider
}

// NewRegistry rejects duplicate keys. An empty registry schedules nothing.
func NewRegistry(providers ...Provider) (*Registry, error) {
	seen := make(map[string]struct{}, len(providers))
	r := &Registry{}
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		key := strings.TrimSpace(provider.Key())
		if key == "" {
			return nil, errors.New("warehousing: provider key is required")
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("warehousing: provider %q registered twice", key)
		}
		seen[key] = struct{}{}
		r.providers = append(r.providers, provider)
	}
	return r, nil
}

// Supported lists the providers able to source the product.
func (r *Registry) Supported(ctx context.Context, product domain.Product) []Provider {
	if r == nil {
		return nil
	}
	out := make([]Provider, 0, len(r.providers))
	for _, provider := range r.providers {
		if provider.IsActive(ctx, product) {
			out = append(out, provider)
		}
	}
	return out
}

// StockProvider commits tracked products against per-SKU stock documents. A SKU without a
// stock document is unlimited.
type StockProvider struct {
	stock repositories.StockRepository
	clock func() time.Time
}

// NewStockProvider requires a stock repository.
func NewStockProvider(stock repositories.StockRepository, clock func() time.Time) (*StockProvider, error) {
	if stock == nil {
		return nil, errors.New("warehousing: stock repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &StockProvider{stock: stock, clock: func() time.Time { return clock().UTC() }}, nil
}

func (p *StockProvider) Key() string { return StockKey }

func (p *StockProvider) IsActive(_ context.Context, product domain.Product) bool {
	return product.Tracked && strings.TrimSpace(product.SKU) != ""
}

func (p *StockProvider) Validate(ctx context.Context, req ItemRequest) error {
	level, err := p.stock.Get(ctx, req.Product.SKU)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return err
	}
	if level.Available() < req.Position.Quantity {
		return fmt.Errorf("%w: %s has %d available", ErrInsufficientStock, req.Product.SKU, level.Available())
	}
	return nil
}

func (p *StockProvider) Reserve(ctx context.Context, req ItemRequest) (domain.SchedulingEntry, error) {
	now := p.clock()
	level, err := p.stock.Commit(ctx, req.Product.SKU, req.Position.Quantity, req.Order.ID, now)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.SchedulingEntry{
				WarehousingProviderID: StockKey,
				Reserved:              true,
				ReservedAt:            &now,
				Context:               map[string]any{"sku": req.Product.SKU, "unlimited": true},
			}, nil
		}
		var invErr *repositories.InventoryError
		if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInsufficientStock {
			return domain.SchedulingEntry{}, fmt.Errorf("%w: %s", ErrInsufficientStock, req.Product.SKU)
		}
		return domain.SchedulingEntry{}, err
	}
	return domain.SchedulingEntry{
		WarehousingProviderID: StockKey,
		Reserved:              true,
		ReservedAt:            &now,
		Context: map[string]any{
			"sku":       req.Product.SKU,
			"committed": req.Position.Quantity,
			"available": level.Available(),
		},
	}, nil
}
