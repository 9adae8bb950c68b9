package domain

import (
	"fmt"
	"time"
)

// Filter maps a logical field name to a scalar, a Range or an In set.
type Filter map[string]any

// Range bounds a time field. Nil ends are open.
type Range struct {
	Gte *time.Time
	Lte *time.Time
}

// In matches any of Values.
type In struct {
	Values []any
}

// Merge returns a new filter holding base overlaid with each extra in order.
func Merge(base Filter, extra ...Filter) Filter {
	out := make(Filter, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, f := range extra {
		for k, v := range f {
			out[k] = v
		}
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// ParseTime accepts RFC3339, "YYYY-MM-DD HH:MM:SS" and "YYYY-MM-DD" values.
// Values without a zone are read as UTC.
func ParseTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: unparseable time %q", ErrInvalidRequest, v)
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unsupported time value %v", ErrInvalidRequest, value)
	}
}
