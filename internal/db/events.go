package db

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventLog records lifecycle events for the audit trail.
type EventLog struct {
	db        *gorm.DB
	retention time.Duration
	now       func() time.Time
}

// NewEventLog keeps events for retentionDays; zero keeps them forever.
func NewEventLog(gdb *gorm.DB, retentionDays int) *EventLog {
	return &EventLog{
		db:        gdb,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

func (l *EventLog) Record(ctx context.Context, action, keyHash string, attrs map[string]any) error {
	now := l.now()

	var expiresAt *time.Time
	if l.retention > 0 {
		t := now.Add(l.retention)
		expiresAt = &t
	}

	jm := datatypes.JSONMap{}
	for k, v := range attrs {
		jm[k] = v
	}

	ev := &LicenseEvent{
		CreatedAt:  now,
		ExpiresAt:  expiresAt,
		Action:     action,
		KeyHash:    keyHash,
		Attributes: jm,
	}
	return l.db.WithContext(ctx).Create(ev).Error
}

// ListByKey returns the most recent events for keyHash, newest first.
func (l *EventLog) ListByKey(ctx context.Context, keyHash string, limit int) ([]LicenseEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var events []LicenseEvent
	err := l.db.WithContext(ctx).
		Where("key_hash = ?", keyHash).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
