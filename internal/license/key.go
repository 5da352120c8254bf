package license

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// MaskSuffix replaces everything after the first MaskVisible characters
// of a key in administrative listings.
const (
	MaskVisible = 8
	MaskSuffix  = "****"
)

// KeyFormat is the textual format of every issued key.
var KeyFormat = regexp.MustCompile(`^[A-Z]{3}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}-[0-9A-F]{4}$`)

var prefixFormat = regexp.MustCompile(`^[A-Z]{3}$`)

// NewToken reads 8 bytes from r and formats them as
// PREFIX-XXXX-XXXX-XXXX-XXXX. r must be a cryptographically secure source;
// the token carries no signature or checksum.
func NewToken(r io.Reader, prefix string) (string, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	h := strings.ToUpper(hex.EncodeToString(b[:]))
	return fmt.Sprintf("%s-%s-%s-%s-%s", prefix, h[0:4], h[4:8], h[8:12], h[12:16]), nil
}

// HashKey returns the lowercase hex SHA-256 digest of key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// MaskKey keeps the first MaskVisible characters and appends MaskSuffix.
func MaskKey(key string) string {
	if len(key) > MaskVisible {
		key = key[:MaskVisible]
	}
	return key + MaskSuffix
}

// PrefixFor derives the key prefix from a key type: its first three
// characters, uppercased. They must be ASCII letters.
func PrefixFor(keyType string) (string, error) {
	p := strings.ToUpper(keyType)
	if len(p) > 3 {
		p = p[:3]
	}
	if !prefixFormat.MatchString(p) {
		return "", fmt.Errorf("%w: key type %q must start with three letters", ErrValidation, keyType)
	}
	return p, nil
}
