package handlers

import "time"

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04"
)

// FormatDate formats t as a date only (admin key table).
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateLayout)
}

// FormatDateTime formats t as date and time (audit trail).
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateTimeLayout)
}
