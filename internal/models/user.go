package models

// User represents an account as returned by the backend.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// NewAccount is the sign-up payload.
type NewAccount struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Token is the response of the token endpoint.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Session is the resolved identity of the current visitor together with the
// bearer token it was resolved from. A nil *Session means anonymous.
type Session struct {
	UserID   int64
	Username string
	Email    string
	Token    string
}

// NewSession merges a resolved user with its token.
func NewSession(u *User, token string) *Session {
	return &Session{UserID: u.ID, Username: u.Username, Email: u.Email, Token: token}
}
