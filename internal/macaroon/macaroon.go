// Package macaroon implements the minimal first-party-caveat macaroon
// scheme spec.md §9 calls for: "root-key HMAC over identifier, then
// successive HMAC over each caveat using the previous tag as key". This is
// the one core component sanctioned to stay on the standard library only
// (crypto/hmac, crypto/sha256) — spec.md explicitly rules out a macaroon
// library dependency for exactly this piece.
package macaroon

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/l402gate/server/internal/apierr"
)

// Caveat keys recognized by the gateway (spec.md §4.3).
const (
	CaveatPaymentHash = "payment_hash"
	CaveatAmountSats  = "amount_sats"
	CaveatAccountID   = "account_id"
)

// Macaroon is a signed bearer credential: a location, an identifier (the
// payment hash), an ordered list of first-party caveats, and a final HMAC
// signature chained over all of them.
type Macaroon struct {
	Location   string
	Identifier string
	Caveats    []string // "key=value", in the order they were added
	Signature  []byte
}

// Signer mints and verifies macaroons under a single 32-byte root key.
type Signer struct {
	location string
	rootKey  []byte
}

// NewSigner constructs a Signer. rootKey must be 32 bytes; use
// GenerateRootKey to produce an ephemeral one when config has none.
func NewSigner(location string, rootKey []byte) (*Signer, error) {
	if len(rootKey) != 32 {
		return nil, fmt.Errorf("macaroon: root key must be 32 bytes, got %d", len(rootKey))
	}
	return &Signer{location: location, rootKey: rootKey}, nil
}

// GenerateRootKey produces a fresh random 32-byte key for ephemeral startup
// when no L402_ROOT_KEY is configured (spec.md §4.3).
func GenerateRootKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("macaroon: generate root key: %w", err)
	}
	return key, nil
}

// Mint issues a macaroon bound to paymentHash and amountSats, optionally
// scoped to accountID (spec.md §4.3).
func (s *Signer) Mint(paymentHash string, amountSats int64, accountID string) *Macaroon {
	m := &Macaroon{
		Location:   s.location,
		Identifier: paymentHash,
	}
	m.Caveats = append(m.Caveats, fmt.Sprintf("%s=%s", CaveatPaymentHash, paymentHash))
	m.Caveats = append(m.Caveats, fmt.Sprintf("%s=%d", CaveatAmountSats, amountSats))
	if accountID != "" {
		m.Caveats = append(m.Caveats, fmt.Sprintf("%s=%s", CaveatAccountID, accountID))
	}

	tag := hmac.New(sha256.New, s.rootKey)
	tag.Write([]byte(m.Identifier))
	sig := tag.Sum(nil)
	for _, caveat := range m.Caveats {
		next := hmac.New(sha256.New, sig)
		next.Write([]byte(caveat))
		sig = next.Sum(nil)
	}
	m.Signature = sig
	return m
}

// Caveats is the parsed, typed view of a verified macaroon's first-party
// caveats (spec.md §4.3).
type Caveats struct {
	PaymentHash string
	AmountSats  int64
	AccountID   string // "" if absent
}

// Verify checks m's HMAC chain under the root key and parses its caveats.
// It rejects duplicate required caveats and non-integer amounts.
func (s *Signer) Verify(m *Macaroon) (Caveats, error) {
	tag := hmac.New(sha256.New, s.rootKey)
	tag.Write([]byte(m.Identifier))
	sig := tag.Sum(nil)
	for _, caveat := range m.Caveats {
		next := hmac.New(sha256.New, sig)
		next.Write([]byte(caveat))
		sig = next.Sum(nil)
	}

	if subtle.ConstantTimeCompare(sig, m.Signature) != 1 {
		return Caveats{}, apierr.New(apierr.CodeInvalidL402, "macaroon signature mismatch")
	}

	var out Caveats
	seenHash, seenAmount, seenAccount := false, false, false
	for _, caveat := range m.Caveats {
		key, value, ok := strings.Cut(caveat, "=")
		if !ok {
			return Caveats{}, apierr.New(apierr.CodeInvalidL402, "malformed caveat")
		}
		switch key {
		case CaveatPaymentHash:
			if seenHash {
				return Caveats{}, apierr.New(apierr.CodeInvalidL402, "duplicate payment_hash caveat")
			}
			seenHash = true
			out.PaymentHash = value
		case CaveatAmountSats:
			if seenAmount {
				return Caveats{}, apierr.New(apierr.CodeInvalidL402, "duplicate amount_sats caveat")
			}
			amount, err := strconv.ParseInt(value, 10, 64)
			if err != nil || amount < 0 {
				return Caveats{}, apierr.New(apierr.CodeInvalidL402, "amount_sats caveat must be a non-negative integer")
			}
			seenAmount = true
			out.AmountSats = amount
		case CaveatAccountID:
			if seenAccount {
				return Caveats{}, apierr.New(apierr.CodeInvalidL402, "duplicate account_id caveat")
			}
			seenAccount = true
			out.AccountID = value
		}
	}

	if !seenHash {
		return Caveats{}, apierr.New(apierr.CodeInvalidL402, "missing payment_hash caveat")
	}
	if !seenAmount {
		return Caveats{}, apierr.New(apierr.CodeInvalidL402, "missing amount_sats caveat")
	}
	return out, nil
}

// Serialize renders m as the base64 blob carried in the L402 Authorization
// header and WWW-Authenticate challenge (spec.md §6).
func Serialize(m *Macaroon) string {
	var sb strings.Builder
	sb.WriteString(m.Location)
	sb.WriteByte('\n')
	sb.WriteString(m.Identifier)
	sb.WriteByte('\n')
	for _, c := range m.Caveats {
		sb.WriteString(c)
		sb.WriteByte('\n')
	}
	sb.WriteString(hex.EncodeToString(m.Signature))
	return base64.URLEncoding.EncodeToString([]byte(sb.String()))
}

// Deserialize parses the base64 blob produced by Serialize.
func Deserialize(encoded string) (*Macaroon, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidL402, "macaroon is not valid base64")
	}
	lines := strings.Split(string(raw), "\n")
	if len(lines) < 3 {
		return nil, apierr.New(apierr.CodeInvalidL402, "macaroon is malformed")
	}
	sigHex := lines[len(lines)-1]
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, apierr.New(apierr.CodeInvalidL402, "macaroon signature is not valid hex")
	}
	m := &Macaroon{
		Location:   lines[0],
		Identifier: lines[1],
		Caveats:    lines[2 : len(lines)-1],
		Signature:  sig,
	}
	return m, nil
}

// ParseAuthorizationHeader splits the "L402 <macaroon-b64>:<preimage-hex>"
// Authorization header value into its two parts (spec.md §6).
func ParseAuthorizationHeader(header string) (macaroonB64, preimageHex string, err error) {
	const prefix = "L402 "
	if !strings.HasPrefix(header, prefix) {
		return "", "", errors.New("macaroon: missing L402 prefix")
	}
	rest := strings.TrimPrefix(header, prefix)
	macaroonB64, preimageHex, ok := strings.Cut(rest, ":")
	if !ok || macaroonB64 == "" || preimageHex == "" {
		return "", "", errors.New("macaroon: malformed L402 authorization header")
	}
	return macaroonB64, preimageHex, nil
}
