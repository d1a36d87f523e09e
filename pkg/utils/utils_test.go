package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCipher_RoundTrip(t *testing.T) {
	c, err := NewTokenCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	sealed, err := c.Encrypt("THAA-access-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "THAA")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "THAA-access-token", plain)
}

func TestTokenCipher_RejectsWrongKey(t *testing.T) {
	a, err := NewTokenCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	b, err := NewTokenCipher("fedcba9876543210fedcba9876543210")
	require.NoError(t, err)

	sealed, err := a.Encrypt("secret")
	require.NoError(t, err)
	_, err = b.Decrypt(sealed)
	assert.Error(t, err)

	_, err = NewTokenCipher("short")
	assert.Error(t, err)
}

func TestJobToken(t *testing.T) {
	token, err := GenerateJobToken("job-secret-for-tests", "cron", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateJobToken("job-secret-for-tests", token)
	require.NoError(t, err)
	assert.Equal(t, "cron", claims.Subject)
	assert.Equal(t, ScopePublish, claims.Scope)

	_, err = ValidateJobToken("another-secret-value", token)
	assert.Error(t, err)

	expired, err := GenerateJobToken("job-secret-for-tests", "cron", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJobToken("job-secret-for-tests", expired)
	assert.Error(t, err)
}

func TestGenerateRandomKey(t *testing.T) {
	a, err := GenerateRandomKey(16)
	require.NoError(t, err)
	b, err := GenerateRandomKey(16)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 24)
}
