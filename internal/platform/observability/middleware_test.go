package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

func newObservedRouter(logger *zap.Logger, handler http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(
		InjectLoggerMiddleware(logger),
		TraceMiddleware("hanko-prod"),
		RecoveryMiddleware(logger),
		RequestLoggerMiddleware("hanko-prod"),
	)
	r.Post("/orders/{orderID}:checkout", handler)
	return r
}

func TestRequestLoggerCorrelatesCloudTrace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var seen requestctx.TraceInfo
	router := newObservedRouter(zap.New(core), func(w http.ResponseWriter, r *http.Request) {
		seen, _ = requestctx.Trace(r.Context())
		w.WriteHeader(http.StatusConflict)
	})

	req := httptest.NewRequest(http.MethodPost, "/orders/ord_1:checkout", nil)
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if seen.TraceID != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("expected trace id from header, got %q", seen.TraceID)
	}
	if !strings.HasPrefix(rr.Header().Get(cloudTraceHeader), seen.TraceID+"/") {
		t.Fatalf("expected trace echoed, got %q", rr.Header().Get(cloudTraceHeader))
	}

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for 409, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["logging.googleapis.com/trace"] != "projects/hanko-prod/traces/105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace resource %v", fields["logging.googleapis.com/trace"])
	}
	if fields["route"] != "/orders/{orderID}:checkout" || fields["order_id"] != "ord_1" {
		t.Fatalf("unexpected route fields %v", fields)
	}
}

func TestRecoveryMiddlewareReturnsJSON(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	router := newObservedRouter(zap.New(core), func(http.ResponseWriter, *http.Request) {
		panic("adapter exploded")
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/ord_1:checkout", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] != "internal_server_error" {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
	if completed := logs.FilterMessage("request completed").All(); len(completed) != 1 || completed[0].Level != zapcore.ErrorLevel {
		t.Fatalf("expected completion logged at error, got %+v", completed)
	}
}

func TestParseCloudTrace(t *testing.T) {
	sc, ok := parseCloudTrace("105445aa7843bc8bf206b12000100000/258;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.SpanID() != (trace.SpanID{0, 0, 0, 0, 0, 0, 1, 2}) || !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("unexpected span context %+v", sc)
	}
	info := requestctx.TraceInfo{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String(), Sampled: true}
	if got := cloudTraceValue(info); got != "105445aa7843bc8bf206b12000100000/258;o=1" {
		t.Fatalf("expected round trip, got %q", got)
	}

	for _, header := range []string{"", "nope", "105445aa7843bc8bf206b12000100000/", "zz/1;o=1", "105445aa7843bc8bf206b12000100000/abc"} {
		if _, ok := parseCloudTrace(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestSanitizeRouteStripsControlCharacters(t *testing.T) {
	if got := SanitizeRoute("/orders/\x1b[31mred\n"); got != "/orders/[31mred" {
		t.Fatalf("unexpected sanitised route %q", got)
	}
	if SanitizeRoute("\n") != "/" {
		t.Fatalf("expected empty route to fall back to /")
	}
}
