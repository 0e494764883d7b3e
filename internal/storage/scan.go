package storage

import (
	"database/sql"
	"fmt"
	"time"

	"saldo/internal/core"
)

// dbDate scans a calendar date stored as TEXT (SQLite) or DATE (PostgreSQL).
type dbDate struct {
	core.Date
}

func (d *dbDate) Scan(v any) error {
	switch t := v.(type) {
	case nil:
		d.Date = core.Date{}
	case time.Time:
		d.Date = core.NewDate(t.Year(), int(t.Month()), t.Day())
	case string:
		return d.parse(t)
	case []byte:
		return d.parse(string(t))
	default:
		return fmt.Errorf("scan date: unsupported type %T", v)
	}
	return nil
}

func (d *dbDate) parse(s string) error {
	parsed, err := core.ParseDate(s)
	if err != nil {
		return fmt.Errorf("scan date: %w", err)
	}
	d.Date = parsed
	return nil
}

// dbTime scans a timestamp stored as TEXT (SQLite) or TIMESTAMPTZ (PostgreSQL).
type dbTime struct {
	time.Time
}

func (t *dbTime) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = x.UTC()
	case string:
		return t.parse(x)
	case []byte:
		return t.parse(string(x))
	default:
		return fmt.Errorf("scan time: unsupported type %T", v)
	}
	return nil
}

func (t *dbTime) parse(s string) error {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("scan time: unrecognized format %q", s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromNull(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
