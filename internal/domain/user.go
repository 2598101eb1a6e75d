package domain

import (
	"context"
	"time"
)

// User is the identity record the core operates on. Profile fields beyond
// identity and verification flags belong to external collaborators.
type User struct {
	ID             string     `json:"id"`
	PhoneNumber    string     `json:"phoneNumber"`
	Role           string     `json:"role"`
	TelegramChatID string     `json:"telegramChatId,omitempty"`
	PhoneVerified  bool       `json:"phoneVerified"`
	LastLoginAt    *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

// Deleted reports whether the user is soft-deleted.
func (u *User) Deleted() bool {
	return u != nil && u.DeletedAt != nil
}

// Linked reports whether the user has a deliverable out-of-band channel.
func (u *User) Linked() bool {
	return u != nil && u.TelegramChatID != ""
}

// UserStore is the lookup/mutation contract the core consumes. User profile
// CRUD lives elsewhere; only the operations the auth flows need appear here.
type UserStore interface {
	GetByPhone(ctx context.Context, phone string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	MarkPhoneVerified(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}
