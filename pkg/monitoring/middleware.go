package monitoring

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/medrex/scheduling-engine/pkg/logger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// RequestLogger is the slice of the service logger the middleware needs
type RequestLogger interface {
	HTTPRequest(ctx context.Context, method, path string, statusCode int, durationMs int64)
}

// MonitoringMiddleware combines metrics, tracing, and logging
type MonitoringMiddleware struct {
	metrics   *MetricsCollector
	tracing   *TracingManager
	logger    RequestLogger
	routeName func(*http.Request) string
}

// NewMonitoringMiddleware creates a new monitoring middleware. tracing may be
// nil; routeName labels requests so path parameters do not explode metric
// cardinality.
func NewMonitoringMiddleware(metrics *MetricsCollector, tracing *TracingManager, log RequestLogger, routeName func(*http.Request) string) *MonitoringMiddleware {
	if routeName == nil {
		routeName = func(r *http.Request) string { return r.URL.Path }
	}
	return &MonitoringMiddleware{
		metrics:   metrics,
		tracing:   tracing,
		logger:    log,
		routeName: routeName,
	}
}

// HTTPMiddleware wraps next with request IDs, a server span, request metrics
// and a request log line
func (mm *MonitoringMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), logger.RequestIDKey, requestID)

		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapper.Header().Set("X-Request-ID", requestID)

		route := mm.routeName(r)
		if mm.tracing != nil {
			ctx = mm.tracing.ExtractTraceContext(ctx, propagation.HeaderCarrier(r.Header))
			var span trace.Span
			ctx, span = mm.startSpan(ctx, r, route, requestID)
			defer span.End()
			mm.tracing.InjectTraceContext(ctx, propagation.HeaderCarrier(wrapper.Header()))
		}

		next.ServeHTTP(wrapper, r.WithContext(ctx))

		duration := time.Since(start)
		mm.metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(wrapper.statusCode), duration)

		if mm.tracing != nil {
			span := trace.SpanFromContext(ctx)
			span.SetAttributes(attribute.Int("http.status_code", wrapper.statusCode))
			if wrapper.statusCode >= 500 {
				span.SetStatus(codes.Error, http.StatusText(wrapper.statusCode))
			}
		}

		if mm.logger != nil {
			mm.logger.HTTPRequest(ctx, r.Method, r.URL.Path, wrapper.statusCode, duration.Milliseconds())
		}
	})
}

func (mm *MonitoringMiddleware) startSpan(ctx context.Context, r *http.Request, route, requestID string) (context.Context, trace.Span) {
	ctx, span := mm.tracing.StartHTTPSpan(ctx, r.Method, route)
	span.SetAttributes(
		attribute.String("http.user_agent", r.UserAgent()),
		attribute.String("request.id", requestID),
	)
	return ctx, span
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
