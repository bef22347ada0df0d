package gateway

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	scoutotel "github.com/basket/scout/internal/otel"
	"github.com/basket/scout/internal/shared"
)

const traceHeader = "X-Trace-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack is needed for the WebSocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Unwrap lets http.ResponseController and the websocket upgrade reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// instrument assigns a trace id, opens a server span and records request
// duration by route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = shared.NewTraceID()
		}
		w.Header().Set(traceHeader, traceID)

		route := routeOf(r.URL.Path)
		ctx := shared.WithTraceID(r.Context(), traceID)
		ctx, span := scoutotel.StartServerSpan(ctx, s.cfg.Tracer, "http "+route,
			scoutotel.AttrHTTPRoute.String(route),
			attribute.String("http.method", r.Method),
		)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		scoutotel.EndSpan(span, nil)
		s.cfg.Metrics.RequestDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(
				attribute.String("route", route),
				attribute.Int("status", rec.status),
			))
		s.logger.DebugContext(ctx, "http request",
			"method", r.Method, "route", route, "status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(), "trace_id", traceID)
	})
}

// routeOf collapses task ids so metric cardinality stays bounded.
func routeOf(path string) string {
	switch {
	case strings.HasPrefix(path, "/events/"):
		return "/events/{task_id}"
	case strings.HasPrefix(path, "/result/"):
		return "/result/{task_id}"
	case strings.HasPrefix(path, "/tasks/") && strings.HasSuffix(path, "/stream"):
		return "/tasks/{task_id}/stream"
	}
	switch path {
	case "/invoke", "/health", "/healthz", "/metrics", "/.well-known/agent.json",
		"/a2a/message/send", "/a2a/tasks/get":
		return path
	}
	return "other"
}
