package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/onnwee/plotline/internal/auth"
)

// operatorKey is the context key for the operator claim.
type operatorKey struct{}

// IsOperator reports whether the authenticated caller carries the operator
// claim.
func IsOperator(ctx context.Context) bool {
	op, _ := ctx.Value(operatorKey{}).(bool)
	return op
}

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// RequireAuth is a middleware that enforces a valid Bearer token. On success
// the caller's wallet address and operator claim are stored in the request
// context; otherwise the request is rejected with 401.
func RequireAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				unauthorized(w, r, "missing bearer token")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil || claims.Type != auth.TokenTypeAccess {
				unauthorized(w, r, "invalid or expired token")
				return
			}

			ctx := SetCallerAddress(r.Context(), claims.Address)
			ctx = context.WithValue(ctx, operatorKey{}, claims.Operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	ctx := SetErrorCode(r.Context(), "auth_failed")
	UpdateResponseContext(w, ctx)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"auth_failed","message":"` + message + `"}}`))
}
