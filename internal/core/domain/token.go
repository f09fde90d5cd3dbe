package domain

import "time"

const (
	DefaultTokenBuffer    = 5 * time.Minute
	DefaultTokenExpiresIn = 3600 * time.Second
)

const (
	ScopeAudit = "audit"
	ScopeData  = "data"
)

// Token is an issued access token. A nil *Token is the absent state.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
	Domain      string
}

// IsStale reports whether tok must be refreshed before use at now.
func IsStale(tok *Token, now time.Time, buffer time.Duration) bool {
	if tok == nil || tok.AccessToken == "" {
		return true
	}
	return !now.Before(tok.ExpiresAt.Add(-buffer))
}
