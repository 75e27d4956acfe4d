// Package scoring evaluates scorecard requirements of an advancement rule.
package scoring

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Kind int

const (
	KindMissing Kind = iota
	KindNumber
	KindBool
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	default:
		return "missing"
	}
}

// Value is a scorecard or threshold value after coercion.
type Value struct {
	kind Kind
	num  float64
	b    bool
	text string
}

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Text(s string) Value    { return Value{kind: KindText, text: s} }
func Missing() Value         { return Value{} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindText:
		return v.text
	default:
		return "<missing>"
	}
}

// ParseThreshold infers the type of a threshold stored as text: numeric
// strings are numbers, "true"/"false" are booleans, anything else is text.
func ParseThreshold(s string) Value {
	trimmed := strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Number(f)
	}
	if b, ok := parseBool(trimmed); ok {
		return Bool(b)
	}
	return Text(trimmed)
}

// Coerce converts a raw scorecard value to kind. ok is false when the value
// cannot be represented as kind.
func Coerce(raw any, kind Kind) (Value, bool) {
	if raw == nil {
		return Missing(), false
	}

	switch kind {
	case KindNumber:
		f, ok := coerceFloat(raw)
		if !ok {
			return Missing(), false
		}
		return Number(f), true
	case KindBool:
		switch val := raw.(type) {
		case bool:
			return Bool(val), true
		case string:
			b, ok := parseBool(strings.TrimSpace(val))
			if !ok {
				return Missing(), false
			}
			return Bool(b), true
		}
		return Missing(), false
	case KindText:
		return Text(coerceString(raw)), true
	}

	return Missing(), false
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

func coerceFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		return f, err == nil
	}
	return 0, false
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}

// Lookup finds path in a scorecard. An exact key wins; otherwise the path is
// walked through nested objects by dots. A leading "$." is ignored.
func Lookup(values map[string]any, path string) (any, bool) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "$.")
	if path == "" || values == nil {
		return nil, false
	}

	if v, ok := values[path]; ok {
		return v, v != nil
	}

	var current any = values
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}

	return current, current != nil
}
