package discounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Director holds the discount adapters in registration order. It is built once and never
// mutated afterwards.
type Director struct {
	adapters []Adapter
	byKey    map[string]Adapter
	logger   func(context.Context, string, map[string]any)
}

// NewDirector registers adapters, rejecting empty and duplicate keys.
func NewDirector(logger func(context.Context, string, map[string]any), adapters ...Adapter) (*Director, error) {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	d := &Director{
		adapters: make([]Adapter, 0, len(adapters)),
		byKey:    make(map[string]Adapter, len(adapters)),
		logger:   logger,
	}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		key := strings.TrimSpace(adapter.Key())
		if key == "" {
			return nil, errors.New("discounts: adapter key is required")
		}
		if _, dup := d.byKey[key]; dup {
			return nil, fmt.Errorf("discounts: adapter %q registered twice", key)
		}
		d.byKey[key] = adapter
		d.adapters = append(d.adapters, adapter)
	}
	return d, nil
}

// Adapter looks up an adapter by key.
func (d *Director) Adapter(key string) (Adapter, bool) {
	adapter, ok := d.byKey[key]
	return adapter, ok
}

// Keys lists the registered keys in registration order.
func (d *Director) Keys() []string {
	keys := make([]string, 0, len(d.adapters))
	for _, adapter := range d.adapters {
		keys = append(keys, adapter.Key())
	}
	return keys
}

// ResolveDiscountKeyFromStaticCode returns the key of the first adapter that allows manual
// addition of the code and reports it valid. The boolean is false when no adapter claims it.
func (d *Director) ResolveDiscountKeyFromStaticCode(ctx context.Context, dc Context, code string) (string, bool) {
	dc.Code = code
	for _, adapter := range d.adapters {
		allowed, err := adapter.IsManualAdditionAllowed(ctx, code)
		if err != nil {
			d.logFailure(ctx, adapter, "isManualAdditionAllowed", err)
			continue
		}
		if !allowed {
			continue
		}
		valid, err := adapter.IsValidForCodeTriggering(ctx, dc)
		if err != nil {
			d.logFailure(ctx, adapter, "isValidForCodeTriggering", err)
			continue
		}
		if valid {
			return adapter.Key(), true
		}
	}
	return "", false
}

// FindSystemDiscounts returns the keys of every adapter currently valid for system triggering.
func (d *Director) FindSystemDiscounts(ctx context.Context, dc Context) []string {
	var keys []string
	for _, adapter := range d.adapters {
		valid, err := adapter.IsValidForSystemTriggering(ctx, dc)
		if err != nil {
			d.logFailure(ctx, adapter, "isValidForSystemTriggering", err)
			continue
		}
		if valid {
			keys = append(keys, adapter.Key())
		}
	}
	return keys
}

func (d *Director) logFailure(ctx context.Context, adapter Adapter, check string, err error) {
	d.logger(ctx, "discount.adapter.failed", map[string]any{
		"adapter": adapter.Key(),
		"check":   check,
		"error":   err.Error(),
	})
}
