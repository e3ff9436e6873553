package pricing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/commerce/internal/domain"
)

var tracer = otel.Tracer("github.com/hanko-field/commerce/internal/pricing")

// Director runs the registered adapters for one context type. The adapter set is fixed at
// construction; Rebuild always starts from an empty calculation.
type Director[C any] struct {
	name     string
	adapters []Adapter[C]
	logger   func(context.Context, string, map[string]any)
	failures metric.Int64Counter
}

// Option customises a Director.
type Option func(*directorOptions)

type directorOptions struct {
	logger   func(context.Context, string, map[string]any)
	failures metric.Int64Counter
}

// WithLogger sets the event logger used to report failing adapters.
func WithLogger(logger func(context.Context, string, map[string]any)) Option {
	return func(o *directorOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFailureCounter records dropped adapter contributions.
func WithFailureCounter(counter metric.Int64Counter) Option {
	return func(o *directorOptions) {
		o.failures = counter
	}
}

// NewDirector registers adapters, rejecting duplicate keys, and orders them by OrderIndex.
// Adapters sharing an index keep their registration order.
func NewDirector[C any](name string, adapters []Adapter[C], opts ...Option) (*Director[C], error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("pricing: director name is required")
	}

	options := directorOptions{
		logger: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	seen := make(map[string]struct{}, len(adapters))
	registered := make([]Adapter[C], 0, len(adapters))
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		key := adapter.Key()
		if key == "" {
			return nil, fmt.Errorf("pricing: %s adapter key is required", name)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("pricing: %s adapter %q registered twice", name, key)
		}
		seen[key] = struct{}{}
		registered = append(registered, adapter)
	}
	slices.SortStableFunc(registered, func(a, b Adapter[C]) int {
		return a.OrderIndex() - b.OrderIndex()
	})

	return &Director[C]{
		name:     name,
		adapters: registered,
		logger:   options.logger,
		failures: options.failures,
	}, nil
}

// Name returns the director name.
func (d *Director[C]) Name() string {
	return d.name
}

// Keys lists the registered adapter keys in execution order.
func (d *Director[C]) Keys() []string {
	keys := make([]string, 0, len(d.adapters))
	for _, adapter := range d.adapters {
		keys = append(keys, adapter.Key())
	}
	return keys
}

// Rebuild folds the activated adapters over an empty calculation. Each adapter sees the sheet
// of all rows contributed before it. A failing adapter is logged and skipped.
func (d *Director[C]) Rebuild(ctx context.Context, c C, currency string, discounts DiscountResolver) []domain.PricingCalculation {
	if discounts == nil {
		discounts = NoDiscounts{}
	}

	active := make([]Adapter[C], 0, len(d.adapters))
	for _, adapter := range d.adapters {
		if adapter.IsActivatedFor(c) {
			active = append(active, adapter)
		}
	}

	ctx, span := tracer.Start(ctx, "pricing.Director.Rebuild")
	span.SetAttributes(
		attribute.String("pricing.context", d.name),
		attribute.Int("pricing.adapter.count", len(active)),
	)
	defer span.End()

	calculation := make([]domain.PricingCalculation, 0)
	for _, adapter := range active {
		rows, err := d.run(ctx, adapter, Params[C]{
			Context:   c,
			Currency:  currency,
			Sheet:     NewSheet(currency, calculation),
			Discounts: discounts.DiscountsFor(ctx, adapter.Key()),
		})
		if err != nil {
			d.logger(ctx, "pricing.adapter.failed", map[string]any{
				"director": d.name,
				"adapter":  adapter.Key(),
				"error":    err.Error(),
			})
			if d.failures != nil {
				d.failures.Add(ctx, 1, metric.WithAttributes(
					attribute.String("director", d.name),
					attribute.String("adapter", adapter.Key()),
				))
			}
			continue
		}
		for _, row := range rows {
			if row.AdapterKey == "" {
				row.AdapterKey = adapter.Key()
			}
			if row.Currency == "" {
				row.Currency = currency
			}
			calculation = append(calculation, row)
		}
	}
	return calculation
}

func (d *Director[C]) run(ctx context.Context, adapter Adapter[C], params Params[C]) (rows []domain.PricingCalculation, err error) {
	defer func() {
		if r := recover(); r != nil {
			rows = nil
			err = fmt.Errorf("pricing: adapter panicked: %v", r)
		}
	}()
	return adapter.Calculate(ctx, params)
}
