package model

import (
	"context"
	"time"
)

// UserStore defines persistence operations for users.
type UserStore interface {
	GetByID(ctx context.Context, userID string) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	Upsert(ctx context.Context, user User) (User, error)
	SetPasswordHash(ctx context.Context, userID, passwordHash string) error
	SetProfilePicture(ctx context.Context, userID, url string) error
	TouchLastSeen(ctx context.Context, userID string, at time.Time) error
	List(ctx context.Context) ([]User, error)
}

// User represents a registered account. Username is unique
// case-insensitively; UserID is the stable identifier carried on the wire.
type User struct {
	UserID         string
	Username       string
	DisplayName    string
	PublicKey      string
	ProfilePicture string
	PasswordHash   string
	LastSeen       time.Time
	CreatedAt      time.Time
}

// Info is the mutable profile snapshot exchanged in presence events.
type Info struct {
	Name           string `json:"name"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture,omitempty"`
}

// Presence is a roster entry: one user plus online state.
type Presence struct {
	UserID    string `json:"id"`
	SessionID string `json:"sessionId,omitempty"`
	PublicKey string `json:"publicKey,omitempty"`
	Info      Info   `json:"info"`
	Status    string `json:"status"`
	LastSeen  int64  `json:"lastSeen"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)
