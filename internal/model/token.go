package model

// TokenManager issues and verifies session tokens so that reconnecting
// clients never resend their password.
type TokenManager interface {
	GenerateSessionToken(userID string) (string, error)
	ParseSessionToken(token string) (string, error)
}
