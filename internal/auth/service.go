// Package auth composes the OTP engine, token service, and user lookup into
// the two-step login protocol plus refresh and logout.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/echonote/echonote-api/internal/delivery"
	"github.com/echonote/echonote-api/internal/domain"
	"github.com/echonote/echonote-api/internal/logging"
	"github.com/echonote/echonote-api/internal/otp"
	"github.com/echonote/echonote-api/internal/token"
)

// RequestCodeResult is the outcome of a request-code call. An unresolved or
// unlinked identity is not an error: Success is false and TelegramBotURL
// carries the deep link for registration/linking.
type RequestCodeResult struct {
	Success        bool
	Message        string
	TelegramBotURL string
}

// VerifyResult carries the minted pair and the authenticated user.
type VerifyResult struct {
	Pair *token.Pair
	User *domain.User
}

// Service is the auth orchestrator.
type Service struct {
	users     domain.UserStore
	otp       *otp.Engine
	tokens    *token.Service
	deliverer delivery.CodeDeliverer
	botURL    string
	log       logging.Logger
}

func NewService(
	users domain.UserStore,
	otpEngine *otp.Engine,
	tokens *token.Service,
	deliverer delivery.CodeDeliverer,
	botURL string,
	log logging.Logger,
) *Service {
	return &Service{
		users:     users,
		otp:       otpEngine,
		tokens:    tokens,
		deliverer: deliverer,
		botURL:    botURL,
		log:       log,
	}
}

// RequestCode resolves the phone number, issues a code, and hands it to the
// out-of-band deliverer. Delivery failure surfaces [domain.ErrDeliveryFailed];
// issuance itself is not rolled back.
func (s *Service) RequestCode(ctx context.Context, phone string) (*RequestCodeResult, error) {
	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.needsLinking("Phone number not registered. Link your account through the Telegram bot first."), nil
		}
		return nil, err
	}
	if user.Deleted() || !user.Linked() {
		return s.needsLinking("No deliverable channel for this number. Link your account through the Telegram bot first."), nil
	}

	code, err := s.otp.Issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if err := s.deliverer.Deliver(ctx, user, code); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "verification code issued", "user", user.ID)
	return &RequestCodeResult{Success: true, Message: "Verification code sent."}, nil
}

// VerifyCode validates the submitted code and mints a token pair. On success
// the pending record is cleared, the channel marked verified if it was not,
// and last login updated.
func (s *Service) VerifyCode(ctx context.Context, phone, code string) (*VerifyResult, error) {
	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if user.Deleted() {
		return nil, domain.ErrAccountDeleted
	}

	if err := s.otp.Validate(ctx, user.ID, code); err != nil {
		return nil, err
	}

	if err := s.otp.Clear(ctx, user.ID); err != nil {
		// The record has a TTL; the store will reap it.
		s.log.Warn(ctx, "otp record clear failed", "user", user.ID, "error", err)
	}

	if !user.PhoneVerified {
		if err := s.users.MarkPhoneVerified(ctx, user.ID); err != nil {
			return nil, err
		}
		user.PhoneVerified = true
	}

	now := time.Now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.log.Warn(ctx, "last login update failed", "user", user.ID, "error", err)
	} else {
		user.LastLoginAt = &now
	}

	pair, err := s.tokens.Mint(user)
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "login verified", "user", user.ID)
	return &VerifyResult{Pair: pair, User: user}, nil
}

// Refresh exchanges a refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*token.Pair, error) {
	return s.tokens.Rotate(ctx, refreshToken)
}

// Logout revokes the refresh token, best-effort. It never fails.
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	s.tokens.Revoke(ctx, refreshToken)
}

func (s *Service) needsLinking(message string) *RequestCodeResult {
	return &RequestCodeResult{
		Success:        false,
		Message:        message,
		TelegramBotURL: s.botURL,
	}
}
