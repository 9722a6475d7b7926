package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"blackbox/internal/logger"
	"blackbox/internal/metrics"
)

// middleware wraps a handler, the same chain-of-interceptors shape the
// daemon's RPC-era ancestor used for its unary interceptors, reimplemented
// over net/http since this surface is plain HTTP, not gRPC.
type middleware func(http.Handler) http.Handler

// chain applies middlewares in the order given, so the first one listed runs
// outermost (first to see the request, last to see the response).
func chain(h http.Handler, mw ...middleware) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// statusRecorder captures the status code a handler wrote so logging/metrics
// middleware can report it without the handler cooperating.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.status = http.StatusOK
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}

// Flush lets the SSE handler keep using http.Flusher through the wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func loggingMiddleware(route string) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()

			next.ServeHTTP(rec, r)

			log := logger.WithComponent("httpapi")
			duration := time.Since(start)
			if rec.status >= 500 {
				log.Error("request failed", "route", route, "status", rec.status, "duration_ms", duration.Milliseconds())
			} else {
				log.Debug("request completed", "route", route, "status", rec.status, "duration_ms", duration.Milliseconds())
			}
		})
	}
}

func metricsMiddleware(m *metrics.Metrics, route string) middleware {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w}
			m.HTTPRequestsInFlight.Inc()
			start := time.Now()

			next.ServeHTTP(rec, r)

			m.HTTPRequestsInFlight.Dec()
			m.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		})
	}
}

// recoverMiddleware converts a handler panic into a 500 rather than taking
// down the accept loop, matching spec.md §5's "each connection dispatched to
// an independent handler" model — one handler's panic must not affect others.
func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.WithComponent("httpapi").Error("handler panicked", "route", r.URL.Path, "panic", fmt.Sprint(rec))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// isBenignConnError matches the disconnect signatures spec.md §5 says to
// swallow silently rather than log as an error: broken pipe, connection
// reset, EOF, or end of stream — all normal consequences of a client going
// away mid-response.
func isBenignConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	for _, needle := range []string{"broken pipe", "connection reset", "end of stream"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func logWriteErr(route string, err error) {
	if isBenignConnError(err) {
		logger.WithComponent("httpapi").Debug("client disconnected", "route", route, "error", err)
		return
	}
	logger.WithComponent("httpapi").Error("write failed", "route", route, "error", err)
}
