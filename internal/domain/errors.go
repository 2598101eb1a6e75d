package domain

import "errors"

var (
	// ErrNotFound is returned when an identity or channel cannot be resolved.
	ErrNotFound = errors.New("not found")
	// ErrExpired is returned when an OTP or token is past its expiry.
	ErrExpired = errors.New("expired")
	// ErrMaxAttempts is returned once the OTP attempt ceiling has been reached.
	ErrMaxAttempts = errors.New("max attempts exceeded")
	// ErrMismatch is returned when a submitted code does not match the stored digest.
	ErrMismatch = errors.New("code mismatch")
	// ErrRevoked is returned for a blacklisted refresh token.
	ErrRevoked = errors.New("token revoked")
	// ErrAccountDeleted is returned when the principal is soft-deleted.
	ErrAccountDeleted = errors.New("account deleted")
	// ErrDeliveryFailed is returned when the out-of-band code delivery fails.
	ErrDeliveryFailed = errors.New("code delivery failed")
	// ErrRateLimited is returned when a throttle window limit is exceeded.
	ErrRateLimited = errors.New("rate limited")
	// ErrBanned is returned while an IP-scoped ban record is active.
	ErrBanned = errors.New("banned")
	// ErrStoreUnavailable wraps shared-store communication failures. It never
	// crosses the transport boundary: rate limiting degrades to allow,
	// blacklisting to log-only.
	ErrStoreUnavailable = errors.New("store unavailable")
)
