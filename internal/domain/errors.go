// Package domain holds the error taxonomy shared by every walletchat component.
// The typed schema lives in the user, chat, files and ledger subpackages.
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAddress      = errors.New("invalid wallet address")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrRecipientBlocked    = errors.New("recipient has blocked sender")
	ErrNotFound            = errors.New("not found")
	ErrPathNotFound        = fmt.Errorf("path %w", ErrNotFound)
	ErrQuotaExceeded       = errors.New("storage quota exceeded")
	ErrInvalidPoll         = errors.New("invalid poll")
	ErrInvalidMessage      = errors.New("invalid message payload")
	ErrInvalidName         = errors.New("invalid name")
	ErrInvalidMove         = errors.New("invalid move")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrForbidden           = errors.New("forbidden")
	ErrAlreadyOwned        = errors.New("item already owned")
	ErrAlreadyExists       = errors.New("already exists")
)

// NotFound wraps ErrNotFound with the missing resource and id.
func NotFound(resource, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, resource, id)
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Kind is a stable, transport-friendly classification of an error.
type Kind string

const (
	KindInvalidAddress      Kind = "invalid_address"
	KindInsufficientCredits Kind = "insufficient_credits"
	KindRecipientBlocked    Kind = "recipient_blocked"
	KindNotFound            Kind = "not_found"
	KindQuotaExceeded       Kind = "quota_exceeded"
	KindInvalidPoll         Kind = "invalid_poll"
	KindInvalidInput        Kind = "invalid_input"
	KindForbidden           Kind = "forbidden"
	KindConflict            Kind = "conflict"
	KindInternal            Kind = "internal"
)

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAddress):
		return KindInvalidAddress
	case errors.Is(err, ErrInsufficientCredits):
		return KindInsufficientCredits
	case errors.Is(err, ErrRecipientBlocked):
		return KindRecipientBlocked
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, ErrInvalidPoll):
		return KindInvalidPoll
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrInvalidMove), errors.Is(err, ErrInvalidAmount):
		return KindInvalidInput
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrAlreadyOwned), errors.Is(err, ErrAlreadyExists):
		return KindConflict
	default:
		return KindInternal
	}
}
