package domain

// Session is the identity resolved from a request's cookies.
// When the access token had expired and the refresh token was rotated,
// Rotated is set and the fresh pair must be written back to the client.
type Session struct {
	UserID       string `json:"id"`
	Rotated      bool   `json:"-"`
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
}
