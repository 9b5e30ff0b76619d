package mail

import (
	"errors"
	"fmt"
	"strings"
)

// SendError is a non-2xx answer from a mail provider.
type SendError struct {
	Provider   string
	StatusCode int
	Message    string
	// Permanent indicates the error will not succeed on retry.
	Permanent bool
}

func (e *SendError) Error() string {
	return e.Provider + ": " + e.Message
}

// IsPermanent reports whether err is a SendError classified as permanent.
func IsPermanent(err error) bool {
	var se *SendError
	if errors.As(err, &se) {
		return se.Permanent
	}
	return false
}

// ClassifyHTTPError returns nil for a 2xx status and a classified SendError
// otherwise.
func ClassifyHTTPError(provider string, statusCode int, body string) *SendError {
	se := &SendError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    body,
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil

	case statusCode == 400, statusCode == 422:
		se.Permanent = containsAny(body, permanentClientPatterns)

	case statusCode == 401, statusCode == 403, statusCode == 404:
		se.Permanent = true

	case statusCode == 429:
		se.Permanent = false

	case statusCode >= 500:
		se.Permanent = containsAny(body, permanentServerPatterns)

	default:
		se.Permanent = statusCode >= 400 && statusCode < 500
	}

	if se.Message == "" {
		se.Message = fmt.Sprintf("unexpected status %d", statusCode)
	}
	return se
}

var permanentClientPatterns = []string{
	"invalid recipient",
	"invalid email",
	"does not exist",
	"mailbox not found",
	"recipient rejected",
	"inactive recipient",
	"invalid address",
}

var permanentServerPatterns = []string{
	"invalid api key",
	"authentication failed",
	"account suspended",
	"account disabled",
	"unauthorized",
}

func containsAny(body string, patterns []string) bool {
	lower := strings.ToLower(body)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
