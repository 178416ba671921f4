package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/raileats/api/internal/platform/requestctx"
)

const instrumentationName = "github.com/raileats/api/internal/platform/observability"

// Middleware wires request-scoped logging, tracing, and metrics for every route.
type Middleware struct {
	logger   *zap.Logger
	tracer   trace.Tracer
	duration metric.Float64Histogram
	requests metric.Int64Counter
}

// NewMiddleware constructs the HTTP observability middleware.
func NewMiddleware(logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := otel.GetMeterProvider().Meter(instrumentationName)
	duration, err := meter.Float64Histogram("http.server.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"))
	if err != nil {
		duration = nil
	}
	requests, err := meter.Int64Counter("http.server.requests",
		metric.WithDescription("Completed HTTP requests"))
	if err != nil {
		requests = nil
	}

	return &Middleware{
		logger:   logger,
		tracer:   otel.GetTracerProvider().Tracer(instrumentationName),
		duration: duration,
		requests: requests,
	}
}

// Handler returns the middleware function registered on the router.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, span := m.tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		spanCtx := span.SpanContext()
		requestLogger := m.logger.With(
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("requestId", middleware.GetReqID(ctx)),
		)
		if spanCtx.HasTraceID() {
			requestLogger = requestLogger.With(zap.String("traceId", spanCtx.TraceID().String()))
			ctx = requestctx.WithTrace(ctx, requestctx.TraceInfo{
				TraceID: spanCtx.TraceID().String(),
				SpanID:  spanCtx.SpanID().String(),
				Sampled: spanCtx.IsSampled(),
			})
		}
		ctx = requestctx.WithLogger(ctx, requestLogger)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		elapsed := time.Since(start)
		attrs := metric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.Int("http.status_code", ww.Status()),
		)
		if m.duration != nil {
			m.duration.Record(ctx, float64(elapsed)/float64(time.Millisecond), attrs)
		}
		if m.requests != nil {
			m.requests.Add(ctx, 1, attrs)
		}

		requestLogger.Info("http.request.completed",
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", elapsed),
		)
	})
}
