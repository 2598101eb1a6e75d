package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echonote/echonote-api/internal/delivery"
	"github.com/echonote/echonote-api/internal/domain"
	"github.com/echonote/echonote-api/internal/logging"
	"github.com/echonote/echonote-api/internal/otp"
	"github.com/echonote/echonote-api/internal/store"
	"github.com/echonote/echonote-api/internal/token"
)

const testBotURL = "https://t.me/echonote_bot"

type authFixture struct {
	svc   *Service
	users *store.UserRepo
	mr    *miniredis.Miniredis
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	users := store.NewUserRepo(rdb)

	tokens, err := token.NewService(rdb, token.Config{
		AccessSecret:  []byte("access-secret-for-tests"),
		RefreshSecret: []byte("refresh-secret-for-tests"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "echonote-test",
	}, users, log)
	require.NoError(t, err)

	engine := otp.NewEngine(rdb, otp.Config{Digits: 6, TTL: 5 * time.Minute, MaxAttempts: 3})
	deliverer := delivery.NewTelegramDeliverer(rdb, time.Second)

	return &authFixture{
		svc:   NewService(users, engine, tokens, deliverer, testBotURL, log),
		users: users,
		mr:    mr,
	}
}

func (f *authFixture) seedUser(t *testing.T, phone, chatID string) *domain.User {
	t.Helper()
	user := &domain.User{PhoneNumber: phone, TelegramChatID: chatID}
	require.NoError(t, f.users.Create(context.Background(), user))
	return user
}

// pendingCode reads the code back from the payload written for the external
// deliverer.
func (f *authFixture) pendingCode(t *testing.T, chatID string) string {
	t.Helper()
	raw, err := f.mr.Get("otp:telegram:" + chatID)
	require.NoError(t, err)

	var payload delivery.PendingCode
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	return payload.Code
}

func TestRequestCodeUnknownPhone(t *testing.T) {
	f := newAuthFixture(t)

	result, err := f.svc.RequestCode(context.Background(), "+15550000000")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, testBotURL, result.TelegramBotURL)
	assert.NotEmpty(t, result.Message)
}

func TestRequestCodeUnlinkedChannel(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "+15551234567", "")

	result, err := f.svc.RequestCode(context.Background(), "+15551234567")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, testBotURL, result.TelegramBotURL)
}

func TestRequestCodeWritesPendingPayload(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "+15551234567", "chat-42")

	result, err := f.svc.RequestCode(context.Background(), "+15551234567")
	require.NoError(t, err)
	assert.True(t, result.Success)

	raw, err := f.mr.Get("otp:telegram:chat-42")
	require.NoError(t, err)

	var payload delivery.PendingCode
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	assert.Equal(t, user.PhoneNumber, payload.PhoneNumber)
	assert.Len(t, payload.Code, 6)
	assert.NotZero(t, payload.Timestamp)

	ttl := f.mr.TTL("otp:telegram:chat-42")
	assert.Equal(t, 300*time.Second, ttl)
}

type failingDeliverer struct{}

func (failingDeliverer) Deliver(ctx context.Context, user *domain.User, code string) error {
	return domain.ErrDeliveryFailed
}

func TestRequestCodeDeliveryFailure(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "+15551234567", "chat-42")
	f.svc.deliverer = failingDeliverer{}

	_, err := f.svc.RequestCode(context.Background(), "+15551234567")
	require.ErrorIs(t, err, domain.ErrDeliveryFailed)
}

func TestVerifyCodeHappyPath(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "+15551234567", "chat-42")
	ctx := context.Background()

	_, err := f.svc.RequestCode(ctx, "+15551234567")
	require.NoError(t, err)
	code := f.pendingCode(t, "chat-42")

	result, err := f.svc.VerifyCode(ctx, "+15551234567", code)
	require.NoError(t, err)

	assert.NotEmpty(t, result.Pair.AccessToken)
	assert.NotEmpty(t, result.Pair.RefreshToken)
	assert.Equal(t, int64((15*time.Minute).Seconds()), result.Pair.ExpiresIn)
	assert.True(t, result.User.PhoneVerified)
	require.NotNil(t, result.User.LastLoginAt)

	// The pending record is cleared: the code is single-use.
	_, err = f.svc.VerifyCode(ctx, "+15551234567", code)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVerifyCodeUnknownPhone(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.VerifyCode(context.Background(), "+15550000000", "123456")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVerifyCodeDeletedAccount(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, "+15551234567", "chat-42")
	ctx := context.Background()

	_, err := f.svc.RequestCode(ctx, "+15551234567")
	require.NoError(t, err)
	code := f.pendingCode(t, "chat-42")

	deletedAt := time.Now()
	user.DeletedAt = &deletedAt
	require.NoError(t, f.users.Create(ctx, user))

	_, err = f.svc.VerifyCode(ctx, "+15551234567", code)
	require.ErrorIs(t, err, domain.ErrAccountDeleted)
}

func TestVerifyCodeThirdWrongAttemptIsLockout(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "+15551234567", "chat-42")
	ctx := context.Background()

	_, err := f.svc.RequestCode(ctx, "+15551234567")
	require.NoError(t, err)
	code := f.pendingCode(t, "chat-42")

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	_, err = f.svc.VerifyCode(ctx, "+15551234567", wrong)
	require.ErrorIs(t, err, domain.ErrMismatch)
	_, err = f.svc.VerifyCode(ctx, "+15551234567", wrong)
	require.ErrorIs(t, err, domain.ErrMismatch)

	// The third wrong attempt is the lockout itself, not another mismatch.
	_, err = f.svc.VerifyCode(ctx, "+15551234567", wrong)
	require.ErrorIs(t, err, domain.ErrMaxAttempts)

	// Attempt ceiling reached: the correct code no longer helps.
	_, err = f.svc.VerifyCode(ctx, "+15551234567", code)
	require.ErrorIs(t, err, domain.ErrMaxAttempts)
}

func TestRefreshRotates(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "+15551234567", "chat-42")
	ctx := context.Background()

	_, err := f.svc.RequestCode(ctx, "+15551234567")
	require.NoError(t, err)

	result, err := f.svc.VerifyCode(ctx, "+15551234567", f.pendingCode(t, "chat-42"))
	require.NoError(t, err)

	next, err := f.svc.Refresh(ctx, result.Pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, result.Pair.RefreshToken, next.RefreshToken)

	_, err = f.svc.Refresh(ctx, result.Pair.RefreshToken)
	require.ErrorIs(t, err, domain.ErrRevoked)
}

func TestLogoutNeverFails(t *testing.T) {
	f := newAuthFixture(t)
	f.seedUser(t, "+15551234567", "chat-42")
	ctx := context.Background()

	_, err := f.svc.RequestCode(ctx, "+15551234567")
	require.NoError(t, err)

	result, err := f.svc.VerifyCode(ctx, "+15551234567", f.pendingCode(t, "chat-42"))
	require.NoError(t, err)

	f.mr.Close()

	// Store down: logout still completes without error or panic.
	f.svc.Logout(ctx, result.Pair.RefreshToken)
	f.svc.Logout(ctx, "not-even-a-token")
}

func TestVerifyCodeStoreOutageSurfacesNothingSensitive(t *testing.T) {
	f := newAuthFixture(t)
	f.mr.Close()

	_, err := f.svc.VerifyCode(context.Background(), "+15551234567", "123456")
	require.Error(t, err)
	require.True(t, errors.Is(err, domain.ErrStoreUnavailable))
}
