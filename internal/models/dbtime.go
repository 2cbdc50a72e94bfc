package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// naiveLayouts are accepted for timestamps stored without zone information.
// Such values are read as UTC.
var naiveLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// DBTime scans database timestamps of any flavour into UTC.
type DBTime struct {
	time.Time
}

// Scan implements sql.Scanner.
func (t *DBTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		parsed, err := ParseTimestamp(string(v))
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	case string:
		parsed, err := ParseTimestamp(v)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into DBTime", src)
	}
}

// Value implements driver.Valuer.
func (t DBTime) Value() (driver.Value, error) {
	return t.Time.UTC(), nil
}

// ParseTimestamp parses a stored timestamp. Zone-aware values are converted
// to UTC; zone-less values are taken to be UTC already.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", s); err == nil {
		return ts.UTC(), nil
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// NaiveTimestamp formats t as a fixed-width UTC string without zone, which
// sorts lexically in time order.
func NaiveTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.000000")
}
