package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantguard/pkg/contextkeys"
	"github.com/platinummonkey/tenantguard/pkg/observability"
)

// RequestIDHeader is read from and echoed to clients
const RequestIDHeader = "X-Request-ID"

// RequestID assigns a request id and a request logger to each request
func RequestID(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(requestID); err != nil {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			ctx = observability.WithLogger(ctx, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

type annotationsKey struct{}

// annotations collects fields set by inner middleware for the access log
type annotations struct {
	mu     sync.Mutex
	fields map[string]interface{}
}

func annotate(ctx context.Context, key string, value interface{}) {
	a, ok := ctx.Value(annotationsKey{}).(*annotations)
	if !ok {
		return
	}
	a.mu.Lock()
	a.fields[key] = value
	a.mu.Unlock()
}

// Logging logs one line per request, including the user and tenant that
// inner middleware resolved
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		notes := &annotations{fields: make(map[string]interface{})}

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), annotationsKey{}, notes)))

		notes.mu.Lock()
		fields := notes.fields
		notes.mu.Unlock()
		fields["method"] = r.Method
		fields["path"] = r.URL.Path
		fields["status"] = rec.status
		fields["duration_ms"] = time.Since(start).Milliseconds()

		logger := observability.FromContext(r.Context()).WithFields(fields)
		if rec.status >= http.StatusInternalServerError {
			logger.Error("request failed")
			return
		}
		logger.Info("request completed")
	})
}
