package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// The upstream auth layer authenticates the operator and forwards the
// resolved identity in this header. Requests reaching this service without
// it are rejected; this middleware performs no credential checks itself.
const operatorHeader = "X-Operator-Id"

type operatorKey struct{}

func Operator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(operatorHeader)
		if raw == "" {
			http.Error(w, "missing operator identity", http.StatusUnauthorized)
			return
		}

		operatorID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid operator identity", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), operatorKey{}, operatorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OperatorFromContext returns the authenticated operator id, or uuid.Nil if
// the request did not pass through the Operator middleware.
func OperatorFromContext(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(operatorKey{}).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}
