// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package identity

import (
	"crypto/ed25519"
	"strings"

	"github.com/zeebo/errs"
	"golang.org/x/crypto/sha3"
)

// crockford is the alphabet used for Endpoint IDs: Crockford's Base32,
// which excludes I, L, O and U to avoid visual ambiguity and accidental
// obscenities.
const crockford = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

const (
	// idHashBytes is chosen so the hash encodes to a whole number of
	// 5-bit symbols with no padding (15*8 = 120 = 24*5).
	idHashBytes = 15
	idDigits    = 24
	idGroupSize = 4

	// EndpointIDPrefix prefixes every canonical Endpoint ID.
	EndpointIDPrefix = "PP-"
	// SANURIScheme is the scheme-like prefix embedded in the leaf
	// certificate's SAN URI, e.g. "pp-id-PP-ABCD-...".
	SANURIScheme = "pp-id-"
)

// ErrEndpointID is the error class for Endpoint ID decoding failures.
var ErrEndpointID = errs.Class("endpoint id")

// ErrCheckDigit is returned when a presented Endpoint ID's check digit
// does not match, distinctly from other malformed-ID cases so callers
// can log precisely.
var ErrCheckDigit = errs.Class("endpoint id check digit")

var crockfordIndex = buildCrockfordIndex()

func buildCrockfordIndex() map[byte]byte {
	m := make(map[byte]byte, 48)
	for i := 0; i < len(crockford); i++ {
		m[crockford[i]] = byte(i)
	}
	// Crockford's tolerant decode: common look-alikes map onto digits.
	m['O'] = 0
	m['I'] = 1
	m['L'] = 1
	return m
}

// DeriveEndpointID computes the canonical, human-safe Endpoint ID for an
// Ed25519 public key. The derivation is a fixed-length SHAKE256 hash of
// the public key, encoded in Crockford Base32, grouped into 4-character
// clusters, with a trailing single check character computed modulo the
// alphabet size over the preceding digits.
func DeriveEndpointID(pub ed25519.PublicKey) string {
	hash := make([]byte, idHashBytes)
	sha3.ShakeSum256(hash, pub)

	digits := encodeCrockford(hash)
	check := checkDigit(digits)

	var b strings.Builder
	b.Grow(len(EndpointIDPrefix) + idDigits + idDigits/idGroupSize + 2)
	b.WriteString(EndpointIDPrefix)
	for i := 0; i < len(digits); i += idGroupSize {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(digits[i : i+idGroupSize])
	}
	b.WriteByte('-')
	b.WriteByte(check)
	return b.String()
}

// ValidateEndpointID verifies that id is well-formed and that its check
// digit matches, returning the canonical uppercase form on success.
func ValidateEndpointID(id string) (string, error) {
	norm := strings.ToUpper(strings.TrimSpace(id))
	if !strings.HasPrefix(norm, EndpointIDPrefix) {
		return "", ErrEndpointID.New("missing %q prefix", EndpointIDPrefix)
	}
	norm = strings.TrimPrefix(norm, EndpointIDPrefix)

	parts := strings.Split(norm, "-")
	if len(parts) < 2 {
		return "", ErrEndpointID.New("malformed id: too few segments")
	}
	checkPart := parts[len(parts)-1]
	if len(checkPart) != 1 {
		return "", ErrEndpointID.New("malformed id: check segment must be one character")
	}

	var digits strings.Builder
	for _, part := range parts[:len(parts)-1] {
		digits.WriteString(part)
	}
	normalizedDigits, err := normalizeCrockford(digits.String())
	if err != nil {
		return "", ErrEndpointID.Wrap(err)
	}
	if len(normalizedDigits) != idDigits {
		return "", ErrEndpointID.New("malformed id: expected %d digits, got %d", idDigits, len(normalizedDigits))
	}

	normalizedCheck, err := normalizeCrockford(checkPart)
	if err != nil {
		return "", ErrEndpointID.Wrap(err)
	}

	want := checkDigit(normalizedDigits)
	if normalizedCheck[0] != want {
		return "", ErrCheckDigit.New("check digit mismatch")
	}

	return EndpointIDPrefix + regroup(normalizedDigits) + "-" + string(want), nil
}

func regroup(digits string) string {
	var b strings.Builder
	for i := 0; i < len(digits); i += idGroupSize {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteString(digits[i : i+idGroupSize])
	}
	return b.String()
}

// checkDigit computes a single Crockford symbol as the sum of each
// digit's alphabet index, modulo the alphabet size.
func checkDigit(digits string) byte {
	var sum int
	for i := 0; i < len(digits); i++ {
		sum += int(crockfordIndex[digits[i]])
	}
	return crockford[sum%len(crockford)]
}

// encodeCrockford packs raw bytes into Crockford Base32 symbols, 5 bits
// at a time, most-significant-bit first.
func encodeCrockford(data []byte) string {
	var b strings.Builder
	b.Grow((len(data)*8 + 4) / 5)

	var buffer uint32
	var bits uint

	for _, by := range data {
		buffer = (buffer << 8) | uint32(by)
		bits += 8
		for bits >= 5 {
			bits -= 5
			idx := (buffer >> bits) & 0x1f
			b.WriteByte(crockford[idx])
		}
	}
	if bits > 0 {
		idx := (buffer << (5 - bits)) & 0x1f
		b.WriteByte(crockford[idx])
	}
	return b.String()
}

// normalizeCrockford validates and maps each character of s onto its
// Crockford alphabet index, rejecting any character outside the
// tolerant decode set (notably 'U', which Crockford's scheme forbids).
func normalizeCrockford(s string) (string, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == 'U' {
			return "", ErrEndpointID.New("invalid character 'U' at position %d", i)
		}
		v, ok := crockfordIndex[c]
		if !ok {
			return "", ErrEndpointID.New("invalid character %q at position %d", c, i)
		}
		out = append(out, crockford[v])
	}
	return string(out), nil
}
