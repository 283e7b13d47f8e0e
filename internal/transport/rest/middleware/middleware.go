package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/KotFed0t/portfolio_ledger_api/data/session"
	"github.com/KotFed0t/portfolio_ledger_api/utils"
	"github.com/google/uuid"
)

type userIDKey struct{}

// GetUserIDFromCtx returns the authenticated caller set by Auth.
func GetUserIDFromCtx(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey{}).(int64)
	return userID, ok
}

func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now()

		rqID := uuid.NewString()
		ctx := utils.CtxWithGivenRqID(r.Context(), rqID)

		slog.Info(
			"start request",
			slog.String("rqID", rqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		defer func() {
			slog.Info(
				"request finished",
				slog.String("rqID", rqID),
				slog.String("request duration", fmt.Sprintf("%.2fs", time.Since(now).Seconds())),
			)
		}()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type SessionStore interface {
	Get(ctx context.Context, token string) (userID int64, err error)
}

// BearerToken extracts the token from the Authorization header, empty if
// the header is missing or not a bearer scheme.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		return ""
	}
	return token
}

// Auth resolves the bearer token to a userID and stores the identity in
// the request context. Handlers pass it explicitly into every ledger
// operation, there is no ambient current user below this point.
func Auth(sessions SessionStore) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rqID := utils.GetRequestIDFromCtx(r.Context())

			token := BearerToken(r)
			if token == "" {
				http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
				return
			}

			userID, err := sessions.Get(r.Context(), token)
			if err != nil {
				if errors.Is(err, session.ErrNotFound) {
					http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
					return
				}
				slog.Error("failed on sessions.Get", slog.String("rqID", rqID), slog.String("err", err.Error()))
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
