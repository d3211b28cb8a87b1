package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// IsEmptyValue reports whether a form value counts as "not filled in" for required checks.
// false and 0 are answers, not blanks.
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case FormData:
		return len(t) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// AsNumber coerces a raw form value into a float. Non-numeric values report false.
func AsNumber(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, false
		}
		return b, true
	}
	return false, false
}

// valuesEqual compares an actual form value to an expected rule value, coercing the actual
// value to the expected value's type.
func valuesEqual(actual any, expected any) bool {
	if actual == nil || expected == nil {
		return false
	}
	switch e := expected.(type) {
	case string:
		switch a := actual.(type) {
		case string:
			return strings.TrimSpace(a) == e
		case bool:
			return strconv.FormatBool(a) == e
		}
		if n, ok := AsNumber(actual); ok {
			if en, ok := AsNumber(e); ok {
				return n == en
			}
		}
		return false
	case bool:
		b, ok := asBool(actual)
		return ok && b == e
	}
	if en, ok := AsNumber(expected); ok {
		an, ok := AsNumber(actual)
		return ok && an == en
	}
	return reflect.DeepEqual(actual, expected)
}

func describeValue(v any) string {
	if s, ok := v.(string); ok {
		return strconv.Quote(s)
	}
	return fmt.Sprintf("%v", v)
}
