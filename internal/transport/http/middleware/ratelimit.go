package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/echonote/echonote-api/internal/ratelimit"
	"github.com/echonote/echonote-api/internal/token"
)

// RateLimit returns middleware that runs every request through the
// counter/ban engine. The limiter's typed decision is translated here, and
// only here, into status codes and headers.
//
// The throttle key prefers the authenticated principal; unauthenticated
// requests are keyed by client IP. Token verification is soft: an invalid
// bearer token just downgrades the key, the auth guard rejects it later.
func RateLimit(limiter *ratelimit.Limiter, tokens *token.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := ratelimit.Request{
				Principal: principal(r, tokens),
				IP:        ClientIP(r),
				Method:    r.Method,
				Route:     r.URL.Path,
			}

			decision := limiter.Check(r.Context(), req)
			if decision.Allowed {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.Reset.Unix(), 10))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			switch decision.Reason {
			case ratelimit.DenyBanned:
				minutes := int(math.Ceil(decision.BanRemaining.Minutes()))
				if minutes < 1 {
					minutes = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(decision.BanRemaining.Seconds()))))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":               "temporarily banned",
					"banMinutesRemaining": minutes,
				})
			default:
				retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":      "rate limit exceeded",
					"limit":      decision.Limit,
					"retryAfter": retryAfter,
				})
			}
		})
	}
}

func principal(r *http.Request, tokens *token.Service) string {
	tokenStr, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return ""
	}
	claims, err := tokens.VerifyAccess(tokenStr)
	if err != nil {
		return ""
	}
	return claims.Subject
}
