package domain

import (
	"strings"
	"time"
)

type User struct {
	UserID       string        `json:"id" dynamodbav:"user_id"`
	Name         string        `json:"name" dynamodbav:"name"`
	Email        string        `json:"email" dynamodbav:"email"`
	PasswordHash string        `json:"-" dynamodbav:"password_hash"`
	Role         string        `json:"role" dynamodbav:"role"`
	IsVerified   bool          `json:"is_verified" dynamodbav:"is_verified"`
	VerifiedAt   *time.Time    `json:"verified_at,omitempty" dynamodbav:"verified_at,omitempty"`
	Tokens       []IssuedToken `json:"-" dynamodbav:"tokens,omitempty"`
	CreatedAt    time.Time     `json:"created" dynamodbav:"created_at"`
	UpdatedAt    time.Time     `json:"updated" dynamodbav:"updated_at"`
}

// IssuedToken records an access token handed out at login. The list is
// informational only; nothing consults it for revocation.
type IssuedToken struct {
	Token     string    `json:"token" dynamodbav:"token"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type VerifyRequest struct {
	OTP   string  `json:"otp"`
	Email *string `json:"email"`
}

// NormalizeEmail trims and lower-cases an address. Every lookup and every
// stored email goes through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
