// Package domain holds validated subscriber values.
package domain

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidEmail means a string is not a syntactically valid email address.
var ErrInvalidEmail = errors.New("invalid subscriber email")

var validate = validator.New(validator.WithRequiredStructEnabled())

// SubscriberEmail is an email address that passed validation.
type SubscriberEmail struct {
	value string
}

// ParseSubscriberEmail validates s as an email address.
func ParseSubscriberEmail(s string) (SubscriberEmail, error) {
	s = strings.TrimSpace(s)
	if err := validate.Var(s, "required,email"); err != nil {
		return SubscriberEmail{}, ErrInvalidEmail
	}
	return SubscriberEmail{value: s}, nil
}

func (e SubscriberEmail) String() string { return e.value }
