package db

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Status is the administrative state of a license key.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// LicenseKey is one issued key. The JSON names are the on-disk format of
// the file store; the gorm tags describe the license_keys table.
//
// Only Status and Activations change after issuance.
type LicenseKey struct {
	// Key is the plaintext token, PREFIX-XXXX-XXXX-XXXX-XXXX.
	Key string `json:"key" gorm:"size:32;not null"`

	// KeyHash is the lowercase hex SHA-256 of Key and the record identity.
	KeyHash string `json:"key_hash" gorm:"primaryKey;size:64"`

	CustomerName string    `json:"customer_name" gorm:"size:255"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" gorm:"index"`

	// DurationDays is informational; ExpiresAt is authoritative.
	DurationDays int `json:"duration_days"`

	KeyType string `json:"key_type" gorm:"size:64"`
	Status  Status `json:"status" gorm:"size:16;not null"`

	Activations    int `json:"activations" gorm:"not null;default:0"`
	MaxActivations int `json:"max_activations" gorm:"not null;default:1"`

	// PublicGenerated marks keys issued through the unauthenticated trial path.
	PublicGenerated bool `json:"public_generated"`

	// Position keeps the collection order stable across a SQL round trip.
	Position int `json:"-" gorm:"index"`
}

// Layouts accepted for timestamps written without a zone offset, as older
// keys.json documents do. They are read as local time.
var naiveTimestampLayouts = []string{
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// UnmarshalJSON accepts RFC 3339 timestamps and the zone-less form of
// older documents. Marshalling is unchanged and always writes RFC 3339.
func (k *LicenseKey) UnmarshalJSON(b []byte) error {
	type plain LicenseKey
	aux := struct {
		*plain
		CreatedAt json.RawMessage `json:"created_at"`
		ExpiresAt json.RawMessage `json:"expires_at"`
	}{plain: (*plain)(k)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	var err error
	if k.CreatedAt, err = parseTimestamp(aux.CreatedAt); err != nil {
		return fmt.Errorf("created_at: %w", err)
	}
	if k.ExpiresAt, err = parseTimestamp(aux.ExpiresAt); err != nil {
		return fmt.Errorf("expires_at: %w", err)
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range naiveTimestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// LicenseEvent is one entry of the lifecycle audit trail. Rows are
// removed by the retention worker once ExpiresAt has passed.
type LicenseEvent struct {
	ID uint `json:"id" gorm:"primaryKey"`

	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" gorm:"index"`

	// Action is one of generate, generate_trial, activate, toggle, delete.
	Action  string `json:"action" gorm:"size:32;index;not null"`
	KeyHash string `json:"key_hash" gorm:"size:64;index;not null"`

	// Attributes holds action specific details (new status, activation
	// count, customer name) without schema changes.
	Attributes datatypes.JSONMap `json:"attributes,omitempty" gorm:"type:json"`
}
