package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	signed, err := GenerateJWT("user-1", string(RoleCustomer), "chat_service")
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := ParseJWT(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.ActorID)
	assert.Equal(t, string(RoleCustomer), claims.Role)
	assert.Equal(t, "chat_service", claims.Issuer)
}

func TestParseJWTRejectsGarbage(t *testing.T) {
	_, err := ParseJWT("not.a.token")
	assert.Error(t, err)
}

func TestParseJWTRejectsTamperedSignature(t *testing.T) {
	signed, err := GenerateJWT("user-1", string(RoleVendor), "chat_service")
	require.NoError(t, err)

	_, err = ParseJWT(signed[:len(signed)-2] + "xx")
	assert.Error(t, err)
}
