package airtable

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Quote renders s as an Airtable formula string literal.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// Eq builds {field}='value'.
func Eq(field, value string) string {
	return "{" + field + "}=" + Quote(value)
}

func stringField(f map[string]any, key string) string {
	switch v := f[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case []any:
		// Linked records come back as a list of ids.
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intField(f map[string]any, key string, fallback int) int {
	switch v := f[key].(type) {
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		if n, err := v.Float64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return int(n)
		}
	}
	return fallback
}

func boolField(f map[string]any, key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case float64:
		return v != 0
	}
	return false
}

func timeField(f map[string]any, key string) *time.Time {
	return parseTime(stringField(f, key))
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// nullable maps "" to nil so Airtable clears the cell.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
