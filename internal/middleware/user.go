package middleware

import (
	"context"
	"net/http"

	"github.com/tphummel/laundry_scan/internal/auth"
	"github.com/tphummel/laundry_scan/internal/models"
)

// UserStore is the subset of db.DB needed to authenticate users.
type UserStore interface {
	GetUser(id string) (*models.User, string, error)
}

type userKey struct{}

// UserFromContext returns the user attached by UserAuth, if any.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(userKey{}).(*models.User)
	return u, ok
}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserAuth returns a handler that resolves a per-user Bearer token of the
// form "<userID>.<secret>" before delegating to next. Responds with 401 if
// the header is missing, malformed, or does not match a stored user.
func UserAuth(users UserStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := bearerToken(r)
		if !ok {
			unauthorized(w)
			return
		}
		userID, secret, err := auth.ParseToken(tok)
		if err != nil {
			unauthorized(w)
			return
		}
		u, hash, err := users.GetUser(userID)
		if err != nil {
			hash = auth.UnknownUserHash()
		}
		if !auth.CheckSecret(hash, secret) || err != nil {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), u)))
	})
}
