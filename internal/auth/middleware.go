package auth

import (
	"context"
	"net/http"
	"strings"

	"expense-tracker/internal/session"
)

type claimsKey struct{}

// Middleware admits requests carrying a valid admin bearer token. Every
// admitted response carries a freshly minted token in X-New-Token.
func Middleware(service *Service, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		claims, tokens, err := service.Authenticate(strings.TrimSpace(parts[1]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		w.Header().Set(NewTokenHeader, tokens.Token)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func ClaimsFromContext(ctx context.Context) (*session.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*session.Claims)
	return claims, ok && claims != nil
}
