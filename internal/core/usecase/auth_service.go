package usecase

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

// AuthService checks bearer tokens against the configured API key. Only the
// key's hash is kept in memory.
type AuthService struct {
	keyHash string
}

// NewAuthService returns a service for apiKey. An empty key disables
// authentication.
func NewAuthService(apiKey string) *AuthService {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &AuthService{}
	}
	return &AuthService{keyHash: HashToken(apiKey)}
}

func (s *AuthService) Enabled() bool {
	return s != nil && s.keyHash != ""
}

func (s *AuthService) Authenticate(token string) error {
	if !s.Enabled() {
		return nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(s.keyHash)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
