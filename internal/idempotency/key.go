// Package idempotency lets a non-idempotent operation be retried safely. The
// first request for a (user, key) pair claims the key inside a transaction
// and saves its response; later requests replay the saved response.
package idempotency

import (
	"errors"
	"unicode/utf8"
)

// MaxKeyLength is the longest accepted key, in characters.
const MaxKeyLength = 50

// ErrInvalidKey is returned for an empty or oversized key.
var ErrInvalidKey = errors.New("invalid idempotency key")

// Key is a client-chosen idempotency key that passed validation.
type Key struct {
	value string
}

// ParseKey validates raw. Any non-empty string of at most MaxKeyLength
// characters is accepted.
func ParseKey(raw string) (Key, error) {
	if raw == "" {
		return Key{}, ErrInvalidKey
	}
	if utf8.RuneCountInString(raw) > MaxKeyLength {
		return Key{}, ErrInvalidKey
	}
	return Key{value: raw}, nil
}

func (k Key) String() string { return k.value }
