package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/dividend-ingest/internal/apperr"
	"github.com/aristath/dividend-ingest/internal/domain"
)

type ctxKey int

const ctxKeyUser ctxKey = iota

// apiKeyFromRequest extracts the key from X-API-Key or a Bearer
// Authorization header, per §4.7.
func apiKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// authMiddleware implements §4.7's authenticate(apiKey) step: format check,
// lookup, active check. /health bypasses this middleware entirely (it is
// mounted outside the authenticated route group in setupRoutes).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := apiKeyFromRequest(r)
		if key == "" || !domain.ValidAPIKeyFormat(key) {
			s.writeError(w, http.StatusUnauthorized, string(apperr.Auth), "missing or malformed API key")
			return
		}

		user, err := s.gw.GetAPIUser(r.Context(), key)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, string(apperr.Auth), "invalid API key")
			return
		}
		if !user.IsActive {
			s.writeError(w, http.StatusUnauthorized, string(apperr.Auth), "API key is inactive")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(r *http.Request) domain.ApiUser {
	u, _ := r.Context().Value(ctxKeyUser).(domain.ApiUser)
	return u
}

// rateLimitMiddleware enforces §4.7's per-key sliding window quota and sets
// the X-RateLimit-* headers on every response, admitted or not.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFromContext(r)
		limit := user.RateLimitPerHour
		if limit <= 0 {
			limit = s.quota
		}

		result := s.limiter.Allow(user.APIKey, limit, s.clock.Now())
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			s.writeError(w, http.StatusTooManyRequests, string(apperr.Quota), "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
