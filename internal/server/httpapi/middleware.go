package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/everkeep/everkeep/internal/common"
	"github.com/everkeep/everkeep/internal/server/auth"
)

var errMissingToken = fmt.Errorf("%w: missing token", common.ErrInvalidToken)

type ctxKey string

const userIDKey ctxKey = "userID"

// UserIDFromContext returns the authenticated user id set by the auth
// middleware. Routes behind the middleware always have one; elsewhere the
// result is empty.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// authMiddleware validates the bearer token and stores the user id in the
// request context. Routes mounted behind it always see a caller identity.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			renderError(w, r, errMissingToken)
			return
		}

		userID, err := auth.GetUserIDFromToken(token, s.jwtSecret)
		if err != nil {
			renderError(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
