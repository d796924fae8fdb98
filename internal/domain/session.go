package domain

import "time"

// RefreshSession persists the server-side state of one refresh token,
// keyed by the token's jti claim. Sessions form a rotation chain:
// RotatedFromJTI points at the predecessor, ReplacedByJTI at the
// successor. Revoked never flips back to false.
type RefreshSession struct {
	ID             int64
	UserID         int64
	JTI            string
	Revoked        bool
	ExpiresAt      time.Time
	RotatedFromJTI string
	ReplacedByJTI  string
	CreatedAt      time.Time
}

// TokenPair is the credential set returned by issuance and rotation.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
}
