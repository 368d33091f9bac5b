package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// AnonymousActor is recorded when a request carries no identity.
const AnonymousActor = "anonymous"

// ActorHeader carries the caller's id when no JWT secret is configured.
const ActorHeader = "X-Actor-ID"

type actorKey struct{}

var errInvalidToken = errors.New("invalid or expired token")

// requestLogger logs each request with request_id, method, path, status
// and latency.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			ev := log.Info()
			if status >= http.StatusInternalServerError {
				ev = log.Error()
			}
			ev.Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", time.Since(start)).
				Msg("request")
		})
	}
}

// Actor resolves who is performing the request. With a secret, a valid
// HS256 bearer token is required and its subject is the actor. Without
// one, the X-Actor-ID header is trusted; identity is owned upstream.
func Actor(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := resolveActor(r, secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "Authentication required", err)
				return
			}
			ctx := context.WithValue(r.Context(), actorKey{}, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveActor(r *http.Request, secret string) (string, error) {
	if secret == "" {
		if id := strings.TrimSpace(r.Header.Get(ActorHeader)); id != "" {
			return id, nil
		}
		return AnonymousActor, nil
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, "Bearer "), claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", errInvalidToken
	}
	return claims.Subject, nil
}

// ActorFrom returns the actor stored by the Actor middleware.
func ActorFrom(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return AnonymousActor
}
