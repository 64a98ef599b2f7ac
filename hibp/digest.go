// Package hibp implements the k-anonymity password range lookup, the
// breach-directory lookup and the offline range filters used to pre-screen
// digests at the edge.
package hibp

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/AdguardTeam/golibs/errors"
	"golang.org/x/crypto/md4"
)

// PrefixLength is the number of leading hex characters of a digest that are
// sent to the range endpoint.
const PrefixLength = 5

// FilterPrefixLength is the number of leading hex characters of a digest that
// select the range filter it belongs to.
const FilterPrefixLength = 3

// ErrMalformedDigest is returned when a digest has the wrong length or
// contains characters outside of [0-9A-F].
const ErrMalformedDigest errors.Error = "malformed digest"

// Algorithm is the hash function used to derive a digest from a secret.  It
// must match the one the remote range endpoint expects.
type Algorithm uint8

// Algorithm values.
const (
	// AlgorithmSHA1 is the default algorithm of the range endpoint.
	AlgorithmSHA1 Algorithm = iota

	// AlgorithmNTLM is the MD4 digest of the UTF-16LE encoded secret.
	AlgorithmNTLM
)

// String implements the fmt.Stringer interface for Algorithm.
func (a Algorithm) String() (s string) {
	switch a {
	case AlgorithmSHA1:
		return "sha1"
	case AlgorithmNTLM:
		return "ntlm"
	default:
		return fmt.Sprintf("!bad_algorithm_%d", uint8(a))
	}
}

// HexLen returns the length of a digest produced by a in hex characters.
func (a Algorithm) HexLen() (n int) {
	switch a {
	case AlgorithmNTLM:
		return md4.Size * 2
	default:
		return sha1.Size * 2
	}
}

// Hash computes the digest of secret.  It never fails, any string including
// the empty one is a valid secret.
func (a Algorithm) Hash(secret string) (d Digest) {
	var sum []byte
	switch a {
	case AlgorithmNTLM:
		h := md4.New()
		units := utf16.Encode([]rune(secret))
		b := make([]byte, 0, len(units)*2)
		for _, u := range units {
			b = append(b, byte(u), byte(u>>8))
		}

		// hash.Hash never returns an error.
		_, _ = h.Write(b)
		sum = h.Sum(nil)
	default:
		s := sha1.Sum([]byte(secret))
		sum = s[:]
	}

	return Digest(strings.ToUpper(hex.EncodeToString(sum)))
}

// Hash computes the SHA-1 digest of secret.
func Hash(secret string) (d Digest) {
	return AlgorithmSHA1.Hash(secret)
}

// Digest is an uppercase hex-encoded hash of a secret.  A digest is
// secret-derived material and must never be logged or stored.
type Digest string

// Prefix returns the part of d that may be sent to the range endpoint.  d
// must be valid.
func (d Digest) Prefix() (prefix string) {
	return string(d[:PrefixLength])
}

// Suffix returns the part of d that is only used for the local match.  d must
// be valid.
func (d Digest) Suffix() (suffix string) {
	return string(d[PrefixLength:])
}

// Validate returns an error wrapping [ErrMalformedDigest] if d is not a
// digest produced by alg.
func (d Digest) Validate(alg Algorithm) (err error) {
	if l, want := len(d), alg.HexLen(); l != want {
		return fmt.Errorf("%w: %s: length %d, want %d", ErrMalformedDigest, alg, l, want)
	}

	if d.hasBadChar() {
		return fmt.Errorf("%w: %s: characters outside of [0-9A-F]", ErrMalformedDigest, alg)
	}

	return nil
}

// hasBadChar returns true if d contains characters outside of [0-9A-F].
func (d Digest) hasBadChar() (ok bool) {
	for i := range len(d) {
		if !isUpperHex(d[i]) {
			return true
		}
	}

	return false
}

// isUpperHex returns true if c is in [0-9A-F].
func isUpperHex(c byte) (ok bool) {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
}
