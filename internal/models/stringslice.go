package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// StringSlice persists a []string as a single delimited text column — the
// rule catalog's FallbackPaths/ExtractedFields never need indexed queries
// into individual elements, so a normalized join table would be overkill.
type StringSlice []string

const stringSliceSep = "\x1f" // unit separator; never appears in a path segment

func (s StringSlice) Value() (driver.Value, error) {
	return strings.Join(s, stringSliceSep), nil
}

func (s *StringSlice) Scan(src interface{}) error {
	if src == nil {
		*s = nil
		return nil
	}
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("models: StringSlice.Scan: unsupported type %T", src)
	}
	if raw == "" {
		*s = nil
		return nil
	}
	*s = strings.Split(raw, stringSliceSep)
	return nil
}
