package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/AlexBiobelemo/Project-Andrew/internal/domain/model"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/metrics"
)

// HTTP status code constants.
const (
	statusBadRequest      = 400
	statusNotFound        = 404
	statusTooManyRequests = 429
	statusInternalError   = 500
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware propagates or assigns a request id and puts it on the
// context for log lines.
func RequestIDMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	}
}

// MetricsMiddleware wraps HTTP handlers to record Prometheus metrics.
func MetricsMiddleware(next http.HandlerFunc, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrap(w)

		next(wrapped, r)

		durationMs := float64(time.Since(start).Milliseconds())
		statusCodeStr := strconv.Itoa(wrapped.statusCode)
		metrics.RecordHTTPRequest(endpoint, r.Method, statusCodeStr)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, statusCodeStr, durationMs)
		if wrapped.statusCode >= statusBadRequest {
			metrics.RecordErrorByEndpoint(endpoint, r.Method, getErrorType(wrapped.statusCode))
		}
	}
}

// AdmissionMiddleware asks the limiter before running next and reports the
// outcome to the behaviour ledger afterwards. Refused requests are answered
// with 429 and Retry-After, and are recorded too.
func (s *Server) AdmissionMiddleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := identityKey(r, s.trustProxy)
		ua := r.UserAgent()
		ctx := logger.WithIdentity(r.Context(), identity)
		wrapped := wrap(w)

		adm := s.deps.EvaluateRequest(ctx, identity, endpoint, ua)
		h := wrapped.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(adm.EffectiveLimit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(max(adm.Remaining, 0)))

		if adm.Allowed {
			next(wrapped, r.WithContext(ctx))
		} else {
			secs := int((adm.RetryAfter + time.Second - 1) / time.Second)
			h.Set("Retry-After", strconv.Itoa(max(secs, 1)))
			s.log.Info(ctx, "request refused",
				logger.String("endpoint", endpoint),
				logger.String("level", adm.Level.String()),
				logger.Int("limit", adm.EffectiveLimit),
			)
			writeError(wrapped, http.StatusTooManyRequests, "rate_limited", NewKind("api.admission", ErrRateLimited))
		}

		s.deps.RecordEvent(context.WithoutCancel(ctx), model.BehaviorEvent{
			IdentityKey: identity,
			Endpoint:    endpoint,
			Method:      r.Method,
			StatusCode:  wrapped.statusCode,
			UserAgent:   ua,
		})
	}
}

// getErrorType returns a standardized error type based on HTTP status code.
func getErrorType(statusCode int) string {
	switch {
	case statusCode >= statusInternalError:
		return "server_error"
	case statusCode == statusTooManyRequests:
		return "rate_limit"
	case statusCode == statusNotFound:
		return "not_found"
	case statusCode >= statusBadRequest:
		return "client_error"
	default:
		return "unknown"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}
