package macaroon

import (
	"testing"

	"github.com/l402gate/server/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := GenerateRootKey()
	require.NoError(t, err)
	s, err := NewSigner("l402gate", key)
	require.NoError(t, err)
	return s
}

func TestMintVerifyRoundTrip(t *testing.T) {
	s := testSigner(t)
	m := s.Mint("deadbeef", 10, "account-1")

	caveats, err := s.Verify(m)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", caveats.PaymentHash)
	assert.Equal(t, int64(10), caveats.AmountSats)
	assert.Equal(t, "account-1", caveats.AccountID)
}

func TestMintWithoutAccountID(t *testing.T) {
	s := testSigner(t)
	m := s.Mint("deadbeef", 10, "")

	caveats, err := s.Verify(m)
	require.NoError(t, err)
	assert.Empty(t, caveats.AccountID)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	s := testSigner(t)
	m := s.Mint("deadbeef", 10, "")
	m.Signature[0] ^= 0xFF

	_, err := s.Verify(m)
	require.Error(t, err)
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.CodeInvalidL402, apiErr.Code)
}

func TestVerifyRejectsForeignRootKey(t *testing.T) {
	s1 := testSigner(t)
	s2 := testSigner(t)
	m := s1.Mint("deadbeef", 10, "")

	_, err := s2.Verify(m)
	require.Error(t, err)
}

func TestVerifyRejectsDuplicateCaveat(t *testing.T) {
	s := testSigner(t)
	m := s.Mint("deadbeef", 10, "")
	m.Caveats = append(m.Caveats, "amount_sats=20")

	_, err := s.Verify(m)
	require.Error(t, err)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	s := testSigner(t)
	m := s.Mint("deadbeef", 42, "account-1")

	encoded := Serialize(m)
	decoded, err := Deserialize(encoded)
	require.NoError(t, err)

	caveats, err := s.Verify(decoded)
	require.NoError(t, err)
	assert.Equal(t, int64(42), caveats.AmountSats)
	assert.Equal(t, "account-1", caveats.AccountID)
}

func TestParseAuthorizationHeader(t *testing.T) {
	macB64, preimage, err := ParseAuthorizationHeader("L402 bWFjYXJvb24=:deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "bWFjYXJvb24=", macB64)
	assert.Equal(t, "deadbeef", preimage)

	_, _, err = ParseAuthorizationHeader("Bearer sometoken")
	require.Error(t, err)

	_, _, err = ParseAuthorizationHeader("L402 missing-colon")
	require.Error(t, err)
}
