package shotlocker

import (
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// TokenLength is the length of an access token
	TokenLength = 10

	// SidSuffixLength is the length of the random statement id suffix
	SidSuffixLength = 8

	tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// NewToken returns an unguessable access token of lowercase letters and digits.
func NewToken() (string, error) {
	return randomString(rand.Reader, TokenLength)
}

// IsToken reports whether s has the shape of an access token.
func IsToken(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// randomString draws n characters from tokenAlphabet without modulo bias.
func randomString(r io.Reader, n int) (string, error) {
	const limit = 252 // largest multiple of 36 below 256
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
