package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

func TestEventLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(core))

	log(context.Background(), "order.status.changed", map[string]any{"orderId": "ord_1", "status": "PENDING"})
	log(context.Background(), "document.generate.failed", map[string]any{"error": "boom"})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level, got %s", entries[0].Level)
	}
	fields := entries[0].ContextMap()
	if fields["event"] != "order.status.changed" || fields["orderId"] != "ord_1" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for failures, got %s", entries[1].Level)
	}
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.DebugLevel)
	requestCore, requestLogs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(fallbackCore))

	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	log(ctx, "payment.charged", nil)

	if requestLogs.Len() != 1 {
		t.Fatalf("expected request logger to receive the event, got %d", requestLogs.Len())
	}
	if fallbackLogs.Len() != 0 {
		t.Fatalf("expected fallback logger unused, got %d", fallbackLogs.Len())
	}
}

func TestNewCheckoutMetricsUsesGlobalProvider(t *testing.T) {
	metrics, err := NewCheckoutMetrics(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if metrics.Transitions == nil || metrics.AdapterFailures == nil || metrics.GrabOutcomes == nil {
		t.Fatalf("expected all counters, got %+v", metrics)
	}
	metrics.Transitions.Add(context.Background(), 1)
}

func TestPrintfAdapterFormats(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	NewPrintfAdapter(zap.New(core)).Printf("hmac: rejected %s", "carrier")

	if logs.Len() != 1 || logs.All()[0].Message != "hmac: rejected carrier" {
		t.Fatalf("unexpected entries %+v", logs.All())
	}
}

func TestEncodeSeverityUsesCloudLoggingNames(t *testing.T) {
	cases := map[zapcore.Level]string{
		zapcore.InfoLevel:  "INFO",
		zapcore.WarnLevel:  "WARNING",
		zapcore.FatalLevel: "EMERGENCY",
	}
	for level, want := range cases {
		enc := &severityCollector{}
		encodeSeverity(level, enc)
		if len(enc.values) != 1 || enc.values[0] != want {
			t.Fatalf("level %s: expected %q, got %v", level, want, enc.values)
		}
	}
}

type severityCollector struct {
	zapcore.PrimitiveArrayEncoder
	values []string
}

func (c *severityCollector) AppendString(v string) { c.values = append(c.values, v) }
