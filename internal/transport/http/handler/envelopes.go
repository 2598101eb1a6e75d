package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/echonote/echonote-api/internal/domain"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RequestCodeEnvelope wraps request-code responses. TelegramBotURL is set
// when the number needs registration or channel linking first.
type RequestCodeEnvelope struct {
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	TelegramBotURL string `json:"telegramBotUrl,omitempty"`
}

// TokenEnvelope wraps verify-code and refresh responses.
type TokenEnvelope struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresIn    int64        `json:"expiresIn"`
	User         *domain.User `json:"user,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg})
}

// authError maps orchestrator errors to responses. Authentication decisions
// become 401s with user-safe messages; infrastructure failures are never
// echoed in detail.
func authError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusUnauthorized, "no pending verification for this number")
	case errors.Is(err, domain.ErrExpired):
		writeError(w, http.StatusUnauthorized, "code or token expired, request a new one")
	case errors.Is(err, domain.ErrMaxAttempts):
		writeError(w, http.StatusUnauthorized, "too many incorrect attempts, request a new code")
	case errors.Is(err, domain.ErrMismatch):
		writeError(w, http.StatusUnauthorized, "incorrect verification code")
	case errors.Is(err, domain.ErrRevoked):
		writeError(w, http.StatusUnauthorized, "token has been revoked")
	case errors.Is(err, domain.ErrAccountDeleted):
		writeError(w, http.StatusUnauthorized, "account no longer exists")
	case errors.Is(err, domain.ErrDeliveryFailed):
		writeError(w, http.StatusBadGateway, "could not deliver the verification code, try again")
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
	}
}
