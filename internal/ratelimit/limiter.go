// Package ratelimit enforces per-principal and per-IP request budgets with
// fixed windows, violation tracking, and escalating temporary IP bans. All
// state lives in the shared store; correctness of the counters relies on the
// store's atomic increment, not on in-process locks.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/echonote/echonote-api/internal/logging"
)

// DenyReason classifies a denied request.
type DenyReason int

const (
	DenyNone DenyReason = iota
	DenyRateLimited
	DenyBanned
)

// Decision is the typed admit/deny result. Only the transport adapter
// translates it into protocol status codes and headers.
type Decision struct {
	Allowed      bool
	Reason       DenyReason
	Limit        int
	Remaining    int
	Reset        time.Time
	RetryAfter   time.Duration
	BanRemaining time.Duration
}

// Request identifies one incoming request for throttling purposes.
// Principal is the authenticated subject id when present, otherwise empty;
// the client IP is always set.
type Request struct {
	Principal string
	IP        string
	Method    string
	Route     string
}

func (r Request) key() string {
	if r.Principal != "" {
		return r.Principal
	}
	return r.IP
}

// Config tunes windows, violation tracking, and ban escalation.
type Config struct {
	DefaultLimit int
	Window       time.Duration
	ViolationTTL time.Duration
	BanThreshold int
	BanDuration  time.Duration
}

// RouteLimits maps "<METHOD> <route pattern>" to a per-window request
// budget. Routes without an entry use the default limit.
type RouteLimits map[string]int

// Limiter is the counter/ban engine. Any store failure on the admit-deciding
// read degrades to allow, and failures on subsequent writes are swallowed:
// the limiter may undercount during partial outages, never block on them.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
	routes RouteLimits
	log    logging.Logger
}

func New(redisClient redis.UniversalClient, cfg Config, routes RouteLimits, log logging.Logger) *Limiter {
	return &Limiter{redis: redisClient, config: cfg, routes: routes, log: log}
}

func throttleKey(req Request) string {
	return fmt.Sprintf("throttle:%s:%s:%s", req.key(), req.Method, req.Route)
}

func violationsKey(req Request) string {
	return "violations:" + req.key()
}

func banKey(ip string) string {
	return "ban:" + ip
}

// Limit returns the budget for the request's route.
func (l *Limiter) Limit(req Request) int {
	if limit, ok := l.routes[req.Method+" "+req.Route]; ok {
		return limit
	}
	return l.config.DefaultLimit
}

// Check admits or denies one request. Order: active ban first, then the
// windowed counter, then violation/ban escalation on overflow.
func (l *Limiter) Check(ctx context.Context, req Request) Decision {
	limit := l.Limit(req)

	if banned, remaining := l.activeBan(ctx, req.IP); banned {
		return Decision{Reason: DenyBanned, Limit: limit, BanRemaining: remaining}
	}

	count, err := l.incrementWithTTL(ctx, throttleKey(req), l.config.Window)
	if err != nil {
		// Fail-open: the store must not become a total outage.
		l.log.Warn(ctx, "throttle increment failed, allowing request", "ip", req.IP, "error", err)
		return Decision{Allowed: true, Limit: limit, Remaining: limit, Reset: time.Now().Add(l.config.Window)}
	}

	if count > int64(limit) {
		return l.escalate(ctx, req, limit)
	}

	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - int(count),
		Reset:     time.Now().Add(l.windowRemaining(ctx, throttleKey(req))),
	}
}

// escalate records a violation and promotes repeat offenders to a temporary
// IP ban.
func (l *Limiter) escalate(ctx context.Context, req Request, limit int) Decision {
	violations, err := l.incrementWithTTL(ctx, violationsKey(req), l.config.ViolationTTL)
	if err != nil {
		l.log.Warn(ctx, "violation tracking failed", "ip", req.IP, "error", err)
	}

	if err == nil && violations >= int64(l.config.BanThreshold) {
		if setErr := l.redis.Set(ctx, banKey(req.IP), "rate limit violations", l.config.BanDuration).Err(); setErr != nil {
			l.log.Warn(ctx, "ban record write failed", "ip", req.IP, "error", setErr)
		}
		l.log.Info(ctx, "ip banned", "ip", req.IP, "violations", violations, "duration", l.config.BanDuration)
		return Decision{Reason: DenyBanned, Limit: limit, BanRemaining: l.config.BanDuration}
	}

	return Decision{
		Reason:     DenyRateLimited,
		Limit:      limit,
		RetryAfter: l.windowRemaining(ctx, throttleKey(req)),
	}
}

func (l *Limiter) activeBan(ctx context.Context, ip string) (bool, time.Duration) {
	remaining, err := l.redis.PTTL(ctx, banKey(ip)).Result()
	if err != nil {
		l.log.Warn(ctx, "ban check failed, allowing request", "ip", ip, "error", err)
		return false, 0
	}
	// PTTL returns a negative duration for missing keys.
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			l.log.Warn(ctx, "window expiry set failed", "key", key, "error", err)
		}
	}

	return count, nil
}

// windowRemaining reports time until the current window resets, falling back
// to the full window when the store cannot answer.
func (l *Limiter) windowRemaining(ctx context.Context, key string) time.Duration {
	ttl, err := l.redis.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return l.config.Window
	}
	return ttl
}
