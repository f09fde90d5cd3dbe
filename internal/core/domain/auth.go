package domain

// Credential is one tenant's client-credentials pair.
type Credential struct {
	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
}

// Redacted is safe to log.
func (c Credential) Redacted() string {
	return c.ClientID
}
