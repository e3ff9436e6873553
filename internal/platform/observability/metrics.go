package observability

import (
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/hanko-field/commerce"

// Tracer returns the application tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// CheckoutMetrics groups the counters recorded by the checkout services.
type CheckoutMetrics struct {
	// Transitions counts order status changes by target status.
	Transitions metric.Int64Counter
	// AdapterFailures counts pricing adapters that returned an error.
	AdapterFailures metric.Int64Counter
	// GrabOutcomes counts discount reservation attempts by outcome.
	GrabOutcomes metric.Int64Counter
	// Verifications counts carrier signature and service token checks by outcome.
	Verifications metric.Int64Counter
}

// NewCheckoutMetrics registers the checkout counters. A nil meter uses the global provider.
func NewCheckoutMetrics(meter metric.Meter) (CheckoutMetrics, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	transitions, err1 := meter.Int64Counter(
		"checkout.transitions",
		metric.WithDescription("Order status transitions"),
	)
	failures, err2 := meter.Int64Counter(
		"pricing.adapter.failures",
		metric.WithDescription("Pricing adapters that failed and were skipped"),
	)
	outcomes, err3 := meter.Int64Counter(
		"discount.grab.outcomes",
		metric.WithDescription("Discount reservation attempts by outcome"),
	)
	verifications, err4 := meter.Int64Counter(
		"auth.verifications",
		metric.WithDescription("Carrier signature and service token verifications by outcome"),
	)
	if err := errors.Join(err1, err2, err3, err4); err != nil {
		return CheckoutMetrics{}, err
	}
	return CheckoutMetrics{
		Transitions:     transitions,
		AdapterFailures: failures,
		GrabOutcomes:    outcomes,
		Verifications:   verifications,
	}, nil
}
