package license

import (
	"time"

	"licenseserver/internal/db"
)

const (
	DefaultCustomerName   = "Unknown"
	DefaultDurationDays   = 30
	DefaultKeyType        = "STANDARD"
	DefaultMaxActivations = 1

	TrialCustomerName   = "Free Trial User"
	TrialPrefix         = "TRL"
	TrialKeyType        = "TRIAL"
	TrialDurationDays   = 7
	TrialMaxActivations = 1

	// MaxDurationDays keeps expires_at well inside time.Duration range.
	MaxDurationDays = 36500
)

// GenerateParams are the admin supplied inputs of Generate. Zero values
// select the defaults above.
type GenerateParams struct {
	CustomerName   string
	DurationDays   int
	KeyType        string
	MaxActivations int
}

// Reason names the outcome of a verification.
type Reason string

const (
	ReasonValid        Reason = "valid"
	ReasonKeyRequired  Reason = "key_required"
	ReasonNotFound     Reason = "not_found"
	ReasonExpired      Reason = "expired"
	ReasonDeactivated  Reason = "deactivated"
	ReasonLimitReached Reason = "activation_limit_reached"
)

var reasonMessages = map[Reason]string{
	ReasonValid:        "License key is valid",
	ReasonKeyRequired:  "License key is required",
	ReasonNotFound:     "Invalid license key",
	ReasonExpired:      "License key has expired",
	ReasonDeactivated:  "License key is deactivated",
	ReasonLimitReached: "Maximum activations reached",
}

// Message is the user facing text for r.
func (r Reason) Message() string {
	return reasonMessages[r]
}

// VerificationResult is the outcome of Verify. The plaintext key and its
// hash are never part of it; the record details are only set when Valid.
type VerificationResult struct {
	Valid  bool
	Reason Reason

	// Expired is set only for ReasonExpired.
	Expired bool

	CustomerName   string
	KeyType        string
	ExpiresAt      time.Time
	Activations    int
	MaxActivations int
}

func (r VerificationResult) Message() string {
	return r.Reason.Message()
}

// ActivationResult carries the activation count after Activate. On
// ErrLimitExceeded it holds the unchanged count.
type ActivationResult struct {
	Activations    int
	MaxActivations int
}

// MaskedKey is a record safe for administrative listing: Key holds only
// the first MaskVisible characters followed by MaskSuffix.
type MaskedKey struct {
	db.LicenseKey
}
