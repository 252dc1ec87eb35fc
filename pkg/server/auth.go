package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/hthome/hiot/pkg/log"
)

const authTokenCookie = "auth_token"

type contextKey string

const userContextKey contextKey = "user"

// user is the authenticated caller.
type user struct {
	Subject string
	Email   string
}

// authMiddleware requires a valid OIDC ID token, either as a bearer token or
// in the auth cookie. It passes everything through when no verifier is
// configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.verifier == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()

		token, err := tokenFromRequest(r)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "missing auth token", slog.Any("error", err))
			writeJSONError(w, err.Error(), http.StatusUnauthorized)
			return
		}

		u, err := s.verifier(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
			return
		}

		ctx = log.WithAttrs(ctx, slog.String("authSubject", u.Subject))
		log.Ctx(ctx).DebugContext(ctx, "authenticated request", slog.String("email", u.Email))
		ctx = context.WithValue(ctx, userContextKey, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFromContext returns the caller authMiddleware verified. It reports
// false when auth is disabled.
func userFromContext(ctx context.Context) (user, bool) {
	u, ok := ctx.Value(userContextKey).(user)
	return u, ok
}

func tokenFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			return "", errors.New("invalid auth header")
		}
		return token, nil
	}
	cookie, err := r.Cookie(authTokenCookie)
	if err != nil {
		return "", errors.New("missing auth token")
	}
	return cookie.Value, nil
}

func oidcVerifier(v *oidc.IDTokenVerifier) tokenVerifier {
	return func(ctx context.Context, rawIDToken string) (user, error) {
		idToken, err := v.Verify(ctx, rawIDToken)
		if err != nil {
			return user{}, err
		}
		var claims struct {
			Email string `json:"email"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return user{}, err
		}
		return user{Subject: idToken.Subject, Email: claims.Email}, nil
	}
}
