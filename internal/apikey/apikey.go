// Package apikey implements generation, verification and request extraction
// of API keys. Keys are "sfm_" followed by a 32-character alphanumeric token;
// only a bcrypt hash and a short display prefix are ever persisted.
package apikey

import (
	"crypto/rand"
	"fmt"
	"regexp"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const (
	// KeyPrefix is the constant prefix of every plaintext key.
	KeyPrefix = "sfm_"

	// tokenLen is the length of the random token after the prefix.
	tokenLen = 32

	// displayPrefixLen is how much of the plaintext is kept for masked
	// display after creation.
	displayPrefixLen = 12

	// HeaderName and QueryParam are where ExtractKey looks, in that order.
	HeaderName = "X-API-Key"
	QueryParam = "api_key"
)

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var keyPattern = regexp.MustCompile(`^sfm_[A-Za-z0-9]{32}$`)

// Generated carries the one-time plaintext of a new key alongside the values
// that may be persisted. The plaintext is never recoverable after this.
type Generated struct {
	Key           string
	Hash          string
	DisplayPrefix string
}

// Generate produces a new API key. The returned plaintext is shown to the
// caller exactly once; only Hash and DisplayPrefix are stored.
func Generate() (Generated, error) {
	buf := make([]byte, tokenLen)
	if _, err := rand.Read(buf); err != nil {
		return Generated{}, fmt.Errorf("apikey: failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}

	key := KeyPrefix + string(buf)
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return Generated{}, fmt.Errorf("apikey: failed to hash key: %w", err)
	}

	return Generated{
		Key:           key,
		Hash:          string(hash),
		DisplayPrefix: key[:displayPrefixLen],
	}, nil
}

// Verify reports whether the candidate plaintext matches the stored hash.
// Any comparison error reads as "does not match"; nothing propagates.
func Verify(candidate, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

// IsValidFormat checks the fixed prefix + fixed-length-alphabet pattern.
// Malformed keys are rejected here before any hash comparison is attempted.
func IsValidFormat(key string) bool {
	return keyPattern.MatchString(key)
}

// ExtractKey pulls an API key from the request: the X-API-Key header first,
// then the api_key query parameter. An empty result means no key was
// provided, which is not an error.
func ExtractKey(c *gin.Context) string {
	if key := c.GetHeader(HeaderName); key != "" {
		return key
	}
	return c.Query(QueryParam)
}
