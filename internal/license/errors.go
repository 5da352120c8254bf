package license

import "errors"

var (
	// ErrValidation reports empty or malformed input. Nothing was changed.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound reports that no record matches the given key or hash.
	ErrNotFound = errors.New("not found")

	// ErrLimitExceeded reports that a key has used all its activations.
	ErrLimitExceeded = errors.New("activation limit reached")

	// ErrExpired and ErrDeactivated are only returned by Activate when
	// strict activation is enabled.
	ErrExpired     = errors.New("license key has expired")
	ErrDeactivated = errors.New("license key is deactivated")
)
