package nodes

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// toFloat64 attempts to convert a value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// toInt converts whole numbers, including JSON float64s, to int.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	f, ok := toFloat64(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// toString renders a value for text output. Non-string values are JSON
// encoded so numbers print without formatting noise.
func toString(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", v)
	}
}

// toList converts the slice shapes that flow through graphs to []any.
func toList(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		result := make([]any, len(s))
		for i, item := range s {
			result[i] = item
		}
		return result, true
	case []int:
		result := make([]any, len(s))
		for i, item := range s {
			result[i] = item
		}
		return result, true
	case []float64:
		result := make([]any, len(s))
		for i, item := range s {
			result[i] = item
		}
		return result, true
	default:
		return nil, false
	}
}

// compare compares two values and returns -1, 0, or 1. Numbers compare
// numerically, anything else by its formatted text.
func compare(a, b any) int {
	aNum, aOk := toFloat64(a)
	bNum, bOk := toFloat64(b)
	if aOk && bOk {
		switch {
		case aNum < bNum:
			return -1
		case aNum > bNum:
			return 1
		}
		return 0
	}

	aStr := fmt.Sprintf("%v", a)
	bStr := fmt.Sprintf("%v", b)
	switch {
	case aStr < bStr:
		return -1
	case aStr > bStr:
		return 1
	}
	return 0
}

// isTruthy determines if a value should be considered true.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}

	switch val := v.(type) {
	case bool:
		return val
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	case string:
		return val != "" && val != "false"
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

func paramString(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func paramInt(m map[string]any, key string, def int) int {
	if n, ok := toInt(m[key]); ok {
		return n
	}
	return def
}

// paramDuration accepts Go duration strings or a number of milliseconds.
func paramDuration(m map[string]any, key string) time.Duration {
	switch v := m[key].(type) {
	case string:
		d, _ := time.ParseDuration(v)
		return d
	case time.Duration:
		return v
	}
	if ms, ok := toFloat64(m[key]); ok {
		return time.Duration(ms * float64(time.Millisecond))
	}
	return 0
}

func paramStringMap(m map[string]any, key string) map[string]string {
	raw, ok := m[key].(map[string]any)
	if !ok {
		if typed, ok := m[key].(map[string]string); ok {
			return typed
		}
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
