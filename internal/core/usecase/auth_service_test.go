package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthServiceAuthenticate(t *testing.T) {
	svc := NewAuthService("s3cret")
	assert.True(t, svc.Enabled())
	assert.NoError(t, svc.Authenticate(" s3cret "))
	for _, token := range []string{"", "wrong", "s3cret2"} {
		assert.ErrorIs(t, svc.Authenticate(token), ErrUnauthorized, "token %q", token)
	}
}

func TestAuthServiceDisabledWithoutKey(t *testing.T) {
	svc := NewAuthService("  ")
	assert.False(t, svc.Enabled())
	assert.NoError(t, svc.Authenticate(""))
}

func TestHashTokenIsStable(t *testing.T) {
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashToken("abc"))
}
