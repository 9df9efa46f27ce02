// Package l402hash canonicalizes Lightning payment hashes and binds
// preimages to them (spec.md §4.1, C1).
package l402hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/l402gate/server/internal/apierr"
)

// preimageLen is the fixed preimage size Lightning uses: 32 bytes.
const preimageLen = 32

// Canonicalize strips whitespace and lowercases a hex payment hash so that
// set lookups and column comparisons are case-insensitive at the edges but
// exact internally.
func Canonicalize(paymentHash string) string {
	return strings.ToLower(strings.TrimSpace(paymentHash))
}

// HashOf computes the canonical payment hash for a hex-encoded preimage.
// The preimage must decode to exactly 32 bytes (spec.md I7); anything else
// is an invalid_payment error.
func HashOf(preimageHex string) (string, error) {
	preimage, err := DecodePreimage(preimageHex)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(preimage)
	return hex.EncodeToString(sum[:]), nil
}

// DecodePreimage hex-decodes a preimage and validates its length.
func DecodePreimage(preimageHex string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(preimageHex))
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidPayment, "preimage is not valid hex")
	}
	if len(raw) != preimageLen {
		return nil, apierr.Newf(apierr.CodeInvalidPayment, "preimage must be %d bytes, got %d", preimageLen, len(raw))
	}
	return raw, nil
}

// Verify reports whether the SHA-256 of preimageHex equals the canonical
// form of wantHash (spec.md I7).
func Verify(preimageHex, wantHash string) (bool, error) {
	got, err := HashOf(preimageHex)
	if err != nil {
		return false, err
	}
	return got == Canonicalize(wantHash), nil
}
