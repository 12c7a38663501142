package domain

import "time"

// OTPPurpose scopes a one-time code. At most one live code exists per (user, purpose).
type OTPPurpose string

const (
	PurposeEmailVerification OTPPurpose = "email_verification"
	PurposePasswordReset     OTPPurpose = "password_reset"
)

func (p OTPPurpose) Valid() bool {
	return p == PurposeEmailVerification || p == PurposePasswordReset
}

// OneTimeCode is the stored form of an OTP. Only the hash is kept.
// PK: user_id, SK: type. ExpiresAt is Unix seconds and doubles as the DynamoDB TTL.
type OneTimeCode struct {
	UserID    string     `json:"user_id" dynamodbav:"user_id"`
	Purpose   OTPPurpose `json:"type" dynamodbav:"type"`
	CodeHash  string     `json:"-" dynamodbav:"code_hash"`
	ExpiresAt int64      `json:"expires_at" dynamodbav:"expires_at"`
	Attempts  int        `json:"attempts" dynamodbav:"attempts"`
	CreatedAt time.Time  `json:"created" dynamodbav:"created_at"`
}

// Expired reports whether the code is no longer usable at now.
func (c *OneTimeCode) Expired(now time.Time) bool {
	return now.Unix() >= c.ExpiresAt
}
