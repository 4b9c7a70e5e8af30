package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestWithHTTPRoute(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{id}", WithHTTPRoute(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tp.Tracer("test").Start(r.Context(), "request")
		defer span.End()
		mux.ServeHTTP(w, r.WithContext(ctx))
	})

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/o-1", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	want := attribute.String("http.route", "GET /orders/{id}")
	found := false
	for _, attr := range spans[0].Attributes() {
		if attr == want {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %v in %v", want, spans[0].Attributes())
	}
}

func TestSpanName(t *testing.T) {
	t.Run("uses the route pattern", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/payment/pay", nil)
		req.Pattern = "POST /payment/pay"

		if got := spanName("", req); got != "POST /payment/pay" {
			t.Errorf("expected route pattern, got %s", got)
		}
	})

	t.Run("falls back to method and path", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/unknown", nil)

		if got := spanName("", req); got != "GET /unknown" {
			t.Errorf("expected method and path, got %s", got)
		}
	})
}
