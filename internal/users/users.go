// Package users manages trader accounts for the Hundi P2P exchange.
//
// A user record carries identity-adjacent trade gating state (KYC flag,
// online presence, block list). The trust score itself lives in the trust
// package and is only ever written by the trust engine.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hundinet/hundi/internal/idgen"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

// User is a trader on the platform.
type User struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName"`
	KYCVerified  bool      `json:"kycVerified"`
	Online       bool      `json:"online"`
	BlockedUsers []string  `json:"blockedUsers,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasBlocked reports whether u has blocked the given user ID.
func (u *User) HasBlocked(userID string) bool {
	for _, id := range u.BlockedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// Store persists user records.
type Store interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	Update(ctx context.Context, u *User) error
	List(ctx context.Context, limit int) ([]*User, error)
}

// RegisterRequest contains the parameters for registering a user.
type RegisterRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
	KYCVerified bool   `json:"kycVerified"`
}

// Service implements user account logic.
type Service struct {
	store Store
}

// NewService creates a new user service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Register creates a new user record.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	now := time.Now()
	u := &User{
		ID:          idgen.WithPrefix("usr_"),
		DisplayName: strings.TrimSpace(req.DisplayName),
		KYCVerified: req.KYCVerified,
		Online:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.store.Get(ctx, id)
}

// SetOnline updates a user's presence flag.
func (s *Service) SetOnline(ctx context.Context, id string, online bool) (*User, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Online = online
	u.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Block adds blockedID to the caller's block list. Blocking is one-sided;
// matching treats a block in either direction as incompatible.
func (s *Service) Block(ctx context.Context, id, blockedID string) (*User, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, blockedID); err != nil {
		return nil, err
	}
	if !u.HasBlocked(blockedID) {
		u.BlockedUsers = append(u.BlockedUsers, blockedID)
		u.UpdatedAt = time.Now()
		if err := s.store.Update(ctx, u); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// Unblock removes blockedID from the caller's block list.
func (s *Service) Unblock(ctx context.Context, id, blockedID string) (*User, error) {
	u, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	filtered := u.BlockedUsers[:0]
	for _, b := range u.BlockedUsers {
		if b != blockedID {
			filtered = append(filtered, b)
		}
	}
	u.BlockedUsers = filtered
	u.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
