package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/echonote/echonote-api/internal/logging"
)

func newLimiterTest(t *testing.T, cfg Config, routes RouteLimits) (*Limiter, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return New(rdb, cfg, routes, log), mr, func() {
		rdb.Close()
		mr.Close()
	}
}

func testRateConfig() Config {
	return Config{
		DefaultLimit: 3,
		Window:       60 * time.Second,
		ViolationTTL: 24 * time.Hour,
		BanThreshold: 10,
		BanDuration:  time.Hour,
	}
}

func testRequest() Request {
	return Request{IP: "203.0.113.7", Method: "POST", Route: "/api/v1/auth/verify-code"}
}

func TestAllowsWithinLimit(t *testing.T) {
	limiter, _, done := newLimiterTest(t, testRateConfig(), nil)
	defer done()
	ctx := context.Background()
	req := testRequest()

	for i := 1; i <= 3; i++ {
		decision := limiter.Check(ctx, req)
		if !decision.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if decision.Remaining != 3-i {
			t.Fatalf("request %d: remaining = %d, want %d", i, decision.Remaining, 3-i)
		}
	}
}

func TestOverLimitIsRateLimitedWithRetryAfter(t *testing.T) {
	limiter, _, done := newLimiterTest(t, testRateConfig(), nil)
	defer done()
	ctx := context.Background()
	req := testRequest()

	for i := 0; i < 3; i++ {
		limiter.Check(ctx, req)
	}

	decision := limiter.Check(ctx, req)
	if decision.Allowed {
		t.Fatal("4th request in the window must be denied")
	}
	if decision.Reason != DenyRateLimited {
		t.Fatalf("reason = %v, want DenyRateLimited", decision.Reason)
	}
	if decision.Limit != 3 {
		t.Fatalf("limit = %d, want 3", decision.Limit)
	}
	if decision.RetryAfter <= 0 || decision.RetryAfter > 60*time.Second {
		t.Fatalf("retryAfter = %v, want within the window", decision.RetryAfter)
	}
}

func TestNextWindowAdmitsAgain(t *testing.T) {
	limiter, mr, done := newLimiterTest(t, testRateConfig(), nil)
	defer done()
	ctx := context.Background()
	req := testRequest()

	for i := 0; i < 4; i++ {
		limiter.Check(ctx, req)
	}

	mr.FastForward(61 * time.Second)

	decision := limiter.Check(ctx, req)
	if !decision.Allowed {
		t.Fatal("first request of the next window must be allowed")
	}
	if decision.Remaining != 2 {
		t.Fatalf("remaining = %d, want 2", decision.Remaining)
	}
}

func TestRepeatedViolationsEscalateToBan(t *testing.T) {
	cfg := testRateConfig()
	cfg.DefaultLimit = 1
	cfg.BanThreshold = 3
	limiter, _, done := newLimiterTest(t, cfg, nil)
	defer done()
	ctx := context.Background()
	req := testRequest()

	limiter.Check(ctx, req) // uses the single budgeted request

	var decision Decision
	for i := 0; i < 3; i++ {
		decision = limiter.Check(ctx, req)
		if decision.Allowed {
			t.Fatalf("violation %d should be denied", i+1)
		}
	}

	if decision.Reason != DenyBanned {
		t.Fatalf("reason after threshold = %v, want DenyBanned", decision.Reason)
	}
	if decision.BanRemaining <= 0 {
		t.Fatalf("banRemaining = %v, want positive", decision.BanRemaining)
	}

	// The ban now short-circuits everything from that IP, any route.
	other := Request{IP: req.IP, Method: "GET", Route: "/api/v1/auth/me"}
	decision = limiter.Check(ctx, other)
	if decision.Allowed || decision.Reason != DenyBanned {
		t.Fatalf("banned IP must be rejected on all routes, got %+v", decision)
	}
	if decision.BanRemaining <= 0 {
		t.Fatalf("active ban must report remaining time, got %v", decision.BanRemaining)
	}
}

func TestBanExpires(t *testing.T) {
	cfg := testRateConfig()
	cfg.DefaultLimit = 1
	cfg.BanThreshold = 1
	limiter, mr, done := newLimiterTest(t, cfg, nil)
	defer done()
	ctx := context.Background()
	req := testRequest()

	limiter.Check(ctx, req)
	if decision := limiter.Check(ctx, req); decision.Reason != DenyBanned {
		t.Fatalf("expected immediate ban at threshold 1, got %+v", decision)
	}

	mr.FastForward(cfg.BanDuration + time.Minute)

	if decision := limiter.Check(ctx, req); !decision.Allowed {
		t.Fatalf("expired ban must admit again, got %+v", decision)
	}
}

func TestPrincipalAndIPCountSeparately(t *testing.T) {
	limiter, _, done := newLimiterTest(t, testRateConfig(), nil)
	defer done()
	ctx := context.Background()

	anon := testRequest()
	authed := testRequest()
	authed.Principal = "u-1"

	for i := 0; i < 3; i++ {
		limiter.Check(ctx, anon)
	}
	if decision := limiter.Check(ctx, anon); decision.Allowed {
		t.Fatal("anonymous budget should be exhausted")
	}

	if decision := limiter.Check(ctx, authed); !decision.Allowed {
		t.Fatalf("principal-keyed budget is independent of the IP budget, got %+v", decision)
	}
}

func TestRouteLimitsOverrideDefault(t *testing.T) {
	routes := RouteLimits{"POST /api/v1/auth/request-code": 1}
	limiter, _, done := newLimiterTest(t, testRateConfig(), routes)
	defer done()
	ctx := context.Background()

	req := Request{IP: "203.0.113.7", Method: "POST", Route: "/api/v1/auth/request-code"}
	if decision := limiter.Check(ctx, req); !decision.Allowed || decision.Limit != 1 {
		t.Fatalf("first request should pass with the route limit, got %+v", decision)
	}
	if decision := limiter.Check(ctx, req); decision.Allowed {
		t.Fatal("route-specific limit of 1 must deny the second request")
	}
}

func TestFailsOpenDuringStoreOutage(t *testing.T) {
	limiter, mr, done := newLimiterTest(t, testRateConfig(), nil)
	defer done()
	ctx := context.Background()

	mr.Close()

	for i := 0; i < 10; i++ {
		if decision := limiter.Check(ctx, testRequest()); !decision.Allowed {
			t.Fatalf("store outage must fail open, request %d denied", i)
		}
	}
}
