// Package idgen provides pluggable ID generation.
//
// Sessions use short Friendly ids that are typed into URLs by hand; run
// history uses time-sortable UUIDv7.
package idgen

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// FriendlyAlphabet leaves out characters that read alike (0/o, 1/l).
const FriendlyAlphabet = "23456789abcdefghijkmnpqrstuvwxyz"

// Alphabet returns a Generator that draws length characters uniformly from
// alphabet using crypto/rand.
func Alphabet(alphabet string, length int) Generator {
	max := big.NewInt(int64(len(alphabet)))
	return func() string {
		b := make([]byte, length)
		for i := range b {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				panic("idgen: crypto/rand failed: " + err.Error())
			}
			b[i] = alphabet[n.Int64()]
		}
		return string(b)
	}
}

// Friendly returns a Generator of short ids over FriendlyAlphabet.
func Friendly(length int) Generator {
	return Alphabet(FriendlyAlphabet, length)
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
