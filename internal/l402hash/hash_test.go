package l402hash

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/l402gate/server/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashOfRoundTrip(t *testing.T) {
	preimage := make([]byte, 32)
	for i := range preimage {
		preimage[i] = byte(i)
	}
	preimageHex := hex.EncodeToString(preimage)
	want := sha256.Sum256(preimage)

	got, err := HashOf(preimageHex)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestHashOfRejectsWrongLength(t *testing.T) {
	_, err := HashOf("aabbcc")
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeInvalidPayment, apiErr.Code)
}

func TestHashOfRejectsNonHex(t *testing.T) {
	_, err := HashOf("not-hex-at-all-zzzz")
	require.Error(t, err)
}

func TestCanonicalizeTrimsAndLowercases(t *testing.T) {
	assert.Equal(t, "abcd1234", Canonicalize("  ABCD1234  "))
}

func TestVerify(t *testing.T) {
	preimage := make([]byte, 32)
	preimageHex := hex.EncodeToString(preimage)
	sum := sha256.Sum256(preimage)
	hash := hex.EncodeToString(sum[:])

	ok, err := Verify(preimageHex, "  "+hash+"  ")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(preimageHex, "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)
}
