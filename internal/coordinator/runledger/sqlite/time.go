package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

// timeFormat is the fixed-width UTC layout used for timestamp columns.
// SQLite has no native datetime type; we store RFC3339 TEXT.
const timeFormat = "2006-01-02T15:04:05.999999999Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// formatNullableTime returns nil for a nil time so SQLite stores NULL.
func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// parseRFC3339 parses the timestamp strings stored in SQLite.
func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseRFC3339(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
