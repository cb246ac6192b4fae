// Package store is the durable account boundary: user records, their
// credentials, and the trusted-peer lists the broker snapshots when a
// user comes online.
package store

import (
	"context"
	"errors"
	"time"
)

// User is one durable account record.
type User struct {
	ID           string
	PasswordHash []byte
	Email        string
	TrustedPeers []string
	CreatedAt    time.Time
}

// Update carries the mutable account fields for UpdateUser. A nil
// slice means the field is left unchanged.
type Update struct {
	TrustedPeers []string
}

var (
	// ErrNotFound is returned when no record exists for the id.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate is returned when creating an id that already exists.
	ErrDuplicate = errors.New("user already exists")
)

// Accounts is the account-store contract the broker and HTTP layer
// consume. All operations may fail; callers decide how failures map
// onto their own error taxonomy.
type Accounts interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUsers(ctx context.Context) ([]*User, error)
	CreateUser(ctx context.Context, user *User) error
	UpdateUser(ctx context.Context, id string, upd Update) error
}

func cloneUser(u *User) *User {
	out := *u
	out.TrustedPeers = append([]string(nil), u.TrustedPeers...)
	out.PasswordHash = append([]byte(nil), u.PasswordHash...)
	return &out
}
