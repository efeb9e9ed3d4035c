package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// HeaderCorrelationID is the header callers use to thread their own trace
// ID through intake, composition, and delivery logs.
const HeaderCorrelationID = "X-Correlation-ID"

type contextKey struct{ name string }

var correlationIDKey = contextKey{"correlation_id"}

// CorrelationID attaches a correlation ID to every request. An inbound
// header value is honored only if it parses as a UUID; anything else is
// replaced, so downstream log fields never carry attacker-chosen strings.
// The effective ID is echoed in the response header.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderCorrelationID))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), correlationIDKey, id)
		w.Header().Set(HeaderCorrelationID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCorrelationID returns the request's correlation ID, or an empty string
// outside an HTTP request.
func GetCorrelationID(ctx context.Context) string {
	v, _ := ctx.Value(correlationIDKey).(string)
	return v
}
