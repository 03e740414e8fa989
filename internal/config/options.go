package config

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Options is a free-form option bag decoded from JSON. Values arrive as the
// encoding/json defaults (string, float64, bool, []any, map[string]any), so
// the accessors coerce and fall back to def when a key is absent or unusable.
type Options map[string]any

// Any returns the raw value for key, or nil.
func (o Options) Any(key string) any {
	if o == nil {
		return nil
	}
	return o[key]
}

func (o Options) String(key, def string) string {
	switch v := o.Any(key).(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return def
	}
}

func (o Options) Bool(key string, def bool) bool {
	switch v := o.Any(key).(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		return b
	default:
		return def
	}
}

func (o Options) Int(key string, def int) int {
	switch v := o.Any(key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return def
		}
		return int(n)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// Rune returns the first rune of a string option. The spellings "\t", "\\t"
// and "tab" all mean a tab, since a literal tab is awkward in JSON configs.
func (o Options) Rune(key string, def rune) rune {
	switch v := o.Any(key).(type) {
	case rune:
		return v
	case string:
		switch v {
		case "":
			return def
		case `\t`, "tab":
			return '\t'
		}
		r, _ := utf8.DecodeRuneInString(v)
		if r == utf8.RuneError {
			return def
		}
		return r
	default:
		return def
	}
}

// StringMap returns key as map[string]string, dropping non-string values.
// It never returns nil.
func (o Options) StringMap(key string) map[string]string {
	out := make(map[string]string)
	switch m := o.Any(key).(type) {
	case map[string]string:
		for k, v := range m {
			out[k] = v
		}
	case map[string]any:
		for k, v := range m {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

// Strings returns key as []string, dropping non-string elements.
func (o Options) Strings(key string) []string {
	switch v := o.Any(key).(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
