package dynamo

// DynamoDB attribute names used in keys, conditions and update expressions.
const (
	fieldUserID     = "user_id"
	fieldEmail      = "email"
	fieldType       = "type"
	fieldCodeHash   = "code_hash"
	fieldAttempts   = "attempts"
	fieldExpiresAt  = "expires_at"
	fieldIsVerified = "is_verified"
	fieldVerifiedAt = "verified_at"
	fieldTokens     = "tokens"
	fieldUpdatedAt  = "updated_at"
)
