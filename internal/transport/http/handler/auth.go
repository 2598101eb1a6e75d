package handler

import (
	"encoding/json"
	"net/http"

	"github.com/echonote/echonote-api/internal/auth"
	"github.com/echonote/echonote-api/internal/domain"
	"github.com/echonote/echonote-api/internal/pkg/validate"
	"github.com/echonote/echonote-api/internal/transport/http/middleware"
)

// AuthHandler exposes the phone + OTP login flow.
type AuthHandler struct {
	svc   *auth.Service
	users domain.UserStore
}

func NewAuthHandler(svc *auth.Service, users domain.UserStore) *AuthHandler {
	return &AuthHandler{svc: svc, users: users}
}

type requestCodeBody struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,e164"`
}

type verifyCodeBody struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,e164"`
	Code        string `json:"code" validate:"required,numeric"`
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// RequestCode issues a verification code and hands it off for out-of-band
// delivery. Unregistered numbers get a success-false response with the bot
// deep link, not an error.
func (h *AuthHandler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var body requestCodeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.RequestCode(r.Context(), body.PhoneNumber)
	if err != nil {
		authError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, RequestCodeEnvelope{
		Success:        result.Success,
		Message:        result.Message,
		TelegramBotURL: result.TelegramBotURL,
	})
}

// VerifyCode validates the submitted code and returns a token pair.
func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var body verifyCodeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.VerifyCode(r.Context(), body.PhoneNumber, body.Code)
	if err != nil {
		authError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenEnvelope{
		AccessToken:  result.Pair.AccessToken,
		RefreshToken: result.Pair.RefreshToken,
		ExpiresIn:    result.Pair.ExpiresIn,
		User:         result.User,
	})
}

// Refresh rotates a refresh token for a new pair.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pair, err := h.svc.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		authError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, TokenEnvelope{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

// Logout revokes the refresh token. It reports success unconditionally: a
// failed blacklist write must not block the session-ending intent.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.RefreshToken != "" {
		h.svc.Logout(r.Context(), body.RefreshToken)
	}

	writeJSON(w, http.StatusOK, MessageEnvelope{Success: true, Message: "logged out"})
}

// Me returns the authenticated principal behind the JWT guard.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.users.GetByID(r.Context(), claims.Subject)
	if err != nil {
		authError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
