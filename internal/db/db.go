package db

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"licenseserver/internal/config"
)

// Connect opens a GORM database connection from APP_DATABASE_URL.
// postgres:// and postgresql:// URLs use PostgreSQL; sqlite://<path>,
// file: URIs and :memory: use SQLite.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(strings.TrimSpace(cfg.DatabaseURL))
	if err != nil {
		return nil, err
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	gdb, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(gdb); err != nil {
		return nil, err
	}

	return gdb, nil
}

// Migrate creates or updates the tables this service owns.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&LicenseKey{}, &LicenseEvent{})
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	switch {
	case dsn == "":
		return nil, errors.New("APP_DATABASE_URL is required for the sql storage driver")
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://")), nil
	case strings.HasPrefix(dsn, "file:"), dsn == ":memory:":
		return sqlite.Open(dsn), nil
	default:
		return nil, errors.New("APP_DATABASE_URL must be a postgres://, postgresql://, sqlite:// or file: URL")
	}
}

// SQLStore keeps one row per key in license_keys and replaces the whole
// table inside a single transaction on every save.
type SQLStore struct {
	db  *gorm.DB
	log *slog.Logger
}

func NewSQLStore(gdb *gorm.DB, log *slog.Logger) *SQLStore {
	if log == nil {
		log = slog.Default()
	}
	return &SQLStore{db: gdb, log: log}
}

func (s *SQLStore) LoadAll(ctx context.Context) []LicenseKey {
	var keys []LicenseKey
	if err := s.db.WithContext(ctx).Order("position").Find(&keys).Error; err != nil {
		s.log.Warn("key store unreadable, using empty collection", "error", err)
		return []LicenseKey{}
	}
	if keys == nil {
		return []LicenseKey{}
	}
	return keys
}

func (s *SQLStore) SaveAll(ctx context.Context, keys []LicenseKey) error {
	rows := cloneKeys(keys)
	for i := range rows {
		rows[i].Position = i
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&LicenseKey{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(&rows, 200).Error
	})
	if err != nil {
		return &StorageError{Op: "save", Path: "license_keys", Err: err}
	}
	return nil
}
