package observability

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// statusRecorder remembers the status code a handler answered with.
type statusRecorder struct {
	http.ResponseWriter

	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.code == 0 {
		sr.code = code
	}

	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(buf []byte) (int, error) {
	if sr.code == 0 {
		sr.code = http.StatusOK
	}

	return sr.ResponseWriter.Write(buf) //nolint:wrapcheck // transparent writer
}

// status returns the recorded code, 200 when the handler wrote nothing.
func (sr *statusRecorder) status() int {
	if sr.code == 0 {
		return http.StatusOK
	}

	return sr.code
}

// HTTPMiddleware serves next inside a server span named "METHOD /path",
// continuing a trace propagated by the caller. When sm is non-nil the
// request is also counted by path.
func HTTPMiddleware(tracer trace.Tracer, sm *ServerMetrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		route := req.URL.Path

		ctx, span := tracer.Start(ctx, req.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(req.Method),
				attribute.String("http.target", route),
			),
		)
		defer span.End()

		finish := func(int) {}
		if sm != nil {
			finish = sm.Begin(ctx, route)
		}

		rec := &statusRecorder{ResponseWriter: rw}
		next.ServeHTTP(rec, req.WithContext(ctx))

		code := rec.status()
		span.SetAttributes(semconv.HTTPResponseStatusCode(code))

		if code >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(code))
		}

		finish(code)
	})
}
