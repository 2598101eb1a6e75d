// Package delivery hands issued codes to the external out-of-band
// deliverer. The core never talks to a transport itself: it writes a
// pending-code payload to the shared store for the deliverer to consume.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/echonote/echonote-api/internal/domain"
)

const (
	pendingKeyPrefix = "otp:telegram:"
	pendingTTL       = 300 * time.Second
)

// PendingCode is the payload the external deliverer consumes. The key format
// and shape are stable for interop with delivery and admin tooling.
type PendingCode struct {
	PhoneNumber string `json:"phoneNumber"`
	Code        string `json:"code"`
	Timestamp   int64  `json:"timestamp"`
}

// CodeDeliverer hands a plaintext code off for out-of-band delivery.
type CodeDeliverer interface {
	Deliver(ctx context.Context, user *domain.User, code string) error
}

// TelegramDeliverer writes pending codes to otp:telegram:<chat-id> on the
// shared store. Each write runs under its own deadline so a slow store
// cannot stall the request path.
type TelegramDeliverer struct {
	redis   redis.UniversalClient
	timeout time.Duration
}

func NewTelegramDeliverer(redisClient redis.UniversalClient, timeout time.Duration) *TelegramDeliverer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TelegramDeliverer{redis: redisClient, timeout: timeout}
}

func (d *TelegramDeliverer) Deliver(ctx context.Context, user *domain.User, code string) error {
	payload, err := json.Marshal(&PendingCode{
		PhoneNumber: user.PhoneNumber,
		Code:        code,
		Timestamp:   time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", domain.ErrDeliveryFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	key := pendingKeyPrefix + user.TelegramChatID
	if err := d.redis.Set(ctx, key, payload, pendingTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeliveryFailed, err)
	}
	return nil
}
