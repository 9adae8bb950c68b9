package definitions

import (
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/jonesrussell/north-cloud/export-service/internal/domain"
)

const (
	layoutVI = "02/01/2006 15:04:05"
	layoutEN = "01/02/2006 15:04:05"
	// data is stored and displayed in Indochina time
	displayOffset = 7 * 60 * 60
)

var displayZone = time.FixedZone("ICT", displayOffset)

// LocalizeTime formats t for lang.
func LocalizeTime(t time.Time, lang string) string {
	layout := layoutEN
	if lang == domain.DefaultLangCode {
		layout = layoutVI
	}
	return t.In(displayZone).Format(layout)
}

func toTime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, !val.IsZero()
	case primitive.DateTime:
		return val.Time(), true
	case string:
		if val == "" {
			return time.Time{}, false
		}
		t, err := domain.ParseTime(val)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case primitive.Decimal128:
		f, err := strconv.ParseFloat(val.String(), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func joinList(v any) string {
	var items []any
	switch val := v.(type) {
	case primitive.A:
		items = val
	case []any:
		items = val
	case []string:
		return strings.Join(val, ", ")
	case string:
		return val
	default:
		return ""
	}

	parts := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// dateRange builds a Range from two request parameters. A date-only upper
// bound covers the whole day.
func dateRange(params domain.Params, fromKey, toKey string) (domain.Range, bool) {
	var r domain.Range

	if v, ok := params[fromKey]; ok && v != nil && v != "" {
		if t, err := domain.ParseTime(v); err == nil {
			r.Gte = &t
		}
	}
	if v, ok := params[toKey]; ok && v != nil && v != "" {
		if t, err := domain.ParseTime(v); err == nil {
			if s, isStr := v.(string); isStr && len(s) == len(time.DateOnly) {
				t = t.Add(24*time.Hour - time.Millisecond)
			}
			r.Lte = &t
		}
	}

	return r, r.Gte != nil || r.Lte != nil
}
