package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrInvalidName is returned for empty, oversized or unsafe subscriber names.
var ErrInvalidName = errors.New("invalid subscriber name")

const maxNameLength = 256

const forbiddenNameChars = `/()"<>\{}`

// SubscriberName is a display name that passed validation.
type SubscriberName struct {
	value string
}

// ParseSubscriberName rejects blank names, names longer than 256 characters
// and names containing any of /()"<>\{}.
func ParseSubscriberName(s string) (SubscriberName, error) {
	if strings.TrimSpace(s) == "" {
		return SubscriberName{}, ErrInvalidName
	}
	if utf8.RuneCountInString(s) > maxNameLength {
		return SubscriberName{}, ErrInvalidName
	}
	if strings.ContainsAny(s, forbiddenNameChars) {
		return SubscriberName{}, ErrInvalidName
	}
	return SubscriberName{value: s}, nil
}

func (n SubscriberName) String() string { return n.value }
