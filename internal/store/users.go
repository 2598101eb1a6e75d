package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/echonote/echonote-api/internal/domain"
)

const (
	userKeyPrefix  = "user:"
	phoneKeyPrefix = "user:phone:"
)

// UserRepo is a Redis-backed implementation of [domain.UserStore]. Records
// are JSON documents at user:<id> with a phone index at user:phone:<e164>.
// It carries only the operations the auth flows need; profile CRUD belongs
// to an external collaborator.
type UserRepo struct {
	redis redis.UniversalClient
}

func NewUserRepo(redisClient redis.UniversalClient) *UserRepo {
	return &UserRepo{redis: redisClient}
}

func userKey(id string) string {
	return userKeyPrefix + id
}

func phoneKey(phone string) string {
	return phoneKeyPrefix + phone
}

// GetByPhone resolves a user through the phone index.
func (r *UserRepo) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	id, err := r.redis.Get(ctx, phoneKey(phone)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	data, err := r.redis.Get(ctx, userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("%w: decode user %s: %v", domain.ErrStoreUnavailable, id, err)
	}
	return &user, nil
}

// Create stores a new user and its phone index. Used when an external
// channel-linking flow first sees a phone number.
func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Role == "" {
		user.Role = "user"
	}

	if err := r.save(ctx, user); err != nil {
		return err
	}
	if err := r.redis.Set(ctx, phoneKey(user.PhoneNumber), user.ID, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// MarkPhoneVerified sets the verification flag. Idempotent.
func (r *UserRepo) MarkPhoneVerified(ctx context.Context, id string) error {
	return r.update(ctx, id, func(u *domain.User) {
		u.PhoneVerified = true
	})
}

func (r *UserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	return r.update(ctx, id, func(u *domain.User) {
		u.LastLoginAt = &at
	})
}

func (r *UserRepo) save(ctx context.Context, user *domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user %s: %w", user.ID, err)
	}
	if err := r.redis.Set(ctx, userKey(user.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (r *UserRepo) update(ctx context.Context, id string, mutate func(*domain.User)) error {
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	mutate(user)
	return r.save(ctx, user)
}
