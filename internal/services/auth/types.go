package auth

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
)

const (
	RoleUser     = "user"
	RoleOperator = "operator"
)

type AccessClaims struct {
	UserID    int64
	Role      string
	ExpiresAt time.Time
}

type AuthResult struct {
	AccessToken   string
	AccessExpires time.Time
	UserID        int64
	Pseudo        string
	Role          string
}
