package password_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/smallbiznis-identity/internal/password"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	digest, err := password.Hash("s3cret")
	require.NoError(t, err)
	require.True(t, password.Verify("s3cret", digest))
	require.False(t, password.Verify("wrong", digest))
}

func TestRandomSecretSizeAndUniqueness(t *testing.T) {
	a, err := password.RandomSecret(48)
	require.NoError(t, err)
	b, err := password.RandomSecret(48)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	decoded, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err)
	require.Len(t, decoded, 48)
	// bcrypt only digests the first 72 bytes, so the encoded form has to
	// stay under that to be fully significant.
	require.Less(t, len(a), 72)
}
