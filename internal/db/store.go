package db

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"licenseserver/internal/config"
)

// KeyStore is the durable collection of license keys. It offers no
// locking: callers serialize read-modify-write cycles themselves.
type KeyStore interface {
	// LoadAll returns the whole collection. Read failures and corrupt
	// data yield an empty collection, never an error.
	LoadAll(ctx context.Context) []LicenseKey

	// SaveAll atomically replaces the whole collection. On error the
	// previously persisted collection is left intact.
	SaveAll(ctx context.Context, keys []LicenseKey) error
}

// StorageError reports a failed write to the persistent store.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewKeyStore builds the KeyStore selected by cfg.StorageDriver. gdb is
// only consulted for the sql driver and must then be non-nil.
func NewKeyStore(cfg *config.Config, gdb *gorm.DB, log *slog.Logger) (KeyStore, error) {
	if log == nil {
		log = slog.Default()
	}
	switch cfg.StorageDriver {
	case "", "file":
		return NewFileStore(cfg.StoragePath, log)
	case "sql":
		if gdb == nil {
			return nil, fmt.Errorf("storage driver sql requires APP_DATABASE_URL")
		}
		return NewSQLStore(gdb, log), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func cloneKeys(keys []LicenseKey) []LicenseKey {
	out := make([]LicenseKey, len(keys))
	copy(out, keys)
	return out
}
