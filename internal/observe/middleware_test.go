package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// These tests swap the global tracer provider and must not run in parallel.

func TestMiddleware_RequestIDHeader(t *testing.T) {
	m, _, _ := testSetup(t)

	t.Run("from chi", func(t *testing.T) {
		r := chi.NewRouter()
		r.Use(middleware.RequestID, Middleware(m))
		var want string
		r.Get("/session/state/{assessmentId}", func(w http.ResponseWriter, r *http.Request) {
			want = middleware.GetReqID(r.Context())
		})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/session/state/a-1", nil))

		if want == "" {
			t.Fatal("chi did not assign a request id")
		}
		if got := rec.Header().Get(RequestIDHeader); got != want {
			t.Errorf("%s = %q, want %q", RequestIDHeader, got, want)
		}
	})

	t.Run("falls back to trace id", func(t *testing.T) {
		handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
		req := httptest.NewRequest("GET", "/healthz", nil)
		req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
			t.Errorf("%s = %q, want incoming trace id", RequestIDHeader, got)
		}
		if rec.Header().Get("traceparent") == "" {
			t.Error("trace context not injected into response")
		}
	})
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	m, _, exp := testSetup(t)

	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Post("/session/turn/{assessmentId}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/session/turn/a-42", nil))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if want := "HTTP POST /session/turn/{assessmentId}"; spans[0].Name != want {
		t.Errorf("span name = %q, want %q", spans[0].Name, want)
	}
	attrs := map[string]any{}
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.AsInterface()
	}
	if got := attrs["http.response.status_code"]; got != int64(http.StatusAccepted) {
		t.Errorf("status attribute = %v, want %d", got, http.StatusAccepted)
	}
	if got := attrs["http.route"]; got != "/session/turn/{assessmentId}" {
		t.Errorf("route attribute = %v", got)
	}
	if got := attrs["url.path"]; got != "/session/turn/a-42" {
		t.Errorf("path attribute = %v", got)
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	m, _, exp := testSetup(t)

	tests := []struct {
		name   string
		status int
		want   codes.Code
	}{
		{"ok", http.StatusOK, codes.Unset},
		{"client error", http.StatusNotFound, codes.Unset},
		{"server error", http.StatusServiceUnavailable, codes.Error},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp.Reset()
			handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.status {
				t.Errorf("response status = %d, want %d", rec.Code, tt.status)
			}
			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if got := spans[0].Status.Code; got != tt.want {
				t.Errorf("span status = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMiddleware_DurationByRoutePattern(t *testing.T) {
	m, reader, _ := testSetup(t)

	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Get("/session/results/{assessmentId}", func(w http.ResponseWriter, _ *http.Request) {})

	for _, id := range []string{"a1", "b2", "c3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/session/results/"+id, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "lexi.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1 (one per route)", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if v, _ := dp.Attributes.Value("path"); v.AsString() != "/session/results/{assessmentId}" {
		t.Errorf("path attribute = %q, want route pattern", v.AsString())
	}
	if v, _ := dp.Attributes.Value("method"); v.AsString() != "GET" {
		t.Errorf("method attribute = %q, want GET", v.AsString())
	}
	if dp.Count != 3 {
		t.Errorf("sample count = %d, want 3", dp.Count)
	}
}

// ── helpers ──

func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	return m, reader, exp
}
