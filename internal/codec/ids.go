package codec

import (
	"crypto/rand"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	keyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// KeyLength is the length of a secret key: 43 base62 symbols carry
	// slightly over 256 bits of entropy.
	KeyLength = 43

	// IDLength is the length of an item id in hex characters.
	IDLength = 64
)

// GenerateKey produces a fresh random secret key over the base62
// alphabet.
func GenerateKey() string {
	var b strings.Builder
	b.Grow(KeyLength)
	for _, n := range randomIndexes(KeyLength, len(keyAlphabet)) {
		b.WriteByte(keyAlphabet[n])
	}
	return b.String()
}

// ValidKey reports whether key is a well-formed secret key: exactly
// KeyLength symbols from the base62 alphabet.
func ValidKey(key string) bool {
	if len(key) != KeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if !strings.ContainsRune(keyAlphabet, rune(key[i])) {
			return false
		}
	}
	return true
}

// GenerateID produces a fresh random item id: 32 random bytes,
// hex-encoded.
func GenerateID() string {
	raw := make([]byte, IDLength/2)
	if _, err := rand.Read(raw); err != nil {
		panic("codec: system random source unavailable: " + err.Error())
	}
	return hex.EncodeToString(raw)
}

// ComposeID deterministically derives an id from its component strings.
// Components are sorted before hashing so the result does not depend on
// argument order; devices composing the same parts always agree.
func ComposeID(parts ...string) string {
	sorted := make([]string, len(parts))
	copy(sorted, parts)
	sort.Strings(sorted)

	sum := sha3.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// randomIndexes draws count uniform values in [0, bound) from the system
// random source, using rejection sampling to avoid modulo bias.
func randomIndexes(count, bound int) []int {
	out := make([]int, 0, count)
	limit := 256 - 256%bound
	buf := make([]byte, count)
	for len(out) < count {
		if _, err := rand.Read(buf); err != nil {
			panic("codec: system random source unavailable: " + err.Error())
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, int(b)%bound)
			if len(out) == count {
				break
			}
		}
	}
	return out
}
