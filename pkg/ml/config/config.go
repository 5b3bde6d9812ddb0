// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the key/value records used to build graph nodes from a description.
//
// A Record can be parsed from a settings string ("name=W;type=LearnableParameter;shape=[3,4]"), see
// ParseSettings, or from a YAML network description, see LoadYAML. Values are read with the typed
// accessors Get and GetOr, which convert between the representations the two sources produce.
package config

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/gomlx/leafnodes/pkg/support/xslices"
	"github.com/pkg/errors"
)

// ErrMissingKey is returned by Get when the key is not in the record.
var ErrMissingKey = errors.New("missing configuration key")

// ErrMalformedValue is returned by Get when the value can't be converted to the requested type.
var ErrMalformedValue = errors.New("malformed configuration value")

// Record is one node description: a set of key/value pairs.
type Record map[string]any

// Has returns whether the key is set.
func (rec Record) Has(key string) bool {
	_, found := rec[key]
	return found
}

// String returns a short description of the record, using its "name" and "type" keys if set.
func (rec Record) String() string {
	name, _ := rec["name"].(string)
	nodeType, _ := rec["type"].(string)
	switch {
	case name != "" && nodeType != "":
		return fmt.Sprintf("%s(%q)", nodeType, name)
	case name != "":
		return strconv.Quote(name)
	default:
		parts := xslices.Map(xslices.SortedKeys(rec), func(key string) string {
			return fmt.Sprintf("%s=%v", key, rec[key])
		})
		return "{" + strings.Join(parts, ";") + "}"
	}
}

// Get returns the value of the key converted to T.
//
// Supported types are bool, int, int64, uint64, float32, float64, string, []int, []float64 and []string.
// Numbers are converted as long as they fit exactly, and lists can also be given as comma-separated strings.
//
// It returns an error wrapping ErrMissingKey or ErrMalformedValue.
func Get[T any](rec Record, key string) (T, error) {
	var zero T
	raw, found := rec[key]
	if !found {
		return zero, errors.Wrapf(ErrMissingKey, "key %q not set in %s", key, rec)
	}
	value, err := convert[T](raw)
	if err != nil {
		return zero, errors.Wrapf(ErrMalformedValue, "key %q in %s: %v", key, rec, err)
	}
	return value, nil
}

// GetOr returns the value of the key converted to T, or defaultValue if the key is not set.
// Malformed values are still reported as errors.
func GetOr[T any](rec Record, key string, defaultValue T) (T, error) {
	if !rec.Has(key) {
		return defaultValue, nil
	}
	return Get[T](rec, key)
}

func convert[T any](raw any) (T, error) {
	var result T
	if v, ok := raw.(T); ok {
		return v, nil
	}
	var converted any
	var err error
	switch any(result).(type) {
	case bool:
		converted, err = toBool(raw)
	case int:
		var i int64
		i, err = toInt(raw)
		converted = int(i)
	case int64:
		converted, err = toInt(raw)
	case uint64:
		var i int64
		i, err = toInt(raw)
		if err == nil && i < 0 {
			err = errors.Errorf("negative value %d", i)
		}
		converted = uint64(i)
	case float64:
		converted, err = toFloat(raw)
	case float32:
		var f float64
		f, err = toFloat(raw)
		converted = float32(f)
	case string:
		converted, err = toString(raw)
	case []int:
		converted, err = toList(raw, func(e any) (int, error) {
			i, err := toInt(e)
			return int(i), err
		})
	case []float64:
		converted, err = toList(raw, toFloat)
	case []string:
		converted, err = toList(raw, toString)
	default:
		err = errors.Errorf("don't know how to convert configuration values to %T", result)
	}
	if err != nil {
		return result, err
	}
	return converted.(T), nil
}

func toBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, errors.Errorf("can't parse %q as a bool", v)
		}
		return b, nil
	}
	return false, errors.Errorf("value %#v (%T) is not a bool", raw, raw)
}

func toInt(raw any) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, errors.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > 1<<53 {
			return 0, errors.Errorf("value %g is not an integer", v)
		}
		return int64(v), nil
	case string:
		i, err := strconv.ParseInt(strings.ReplaceAll(strings.TrimSpace(v), "_", ""), 10, 64)
		if err != nil {
			return 0, errors.Errorf("can't parse %q as an integer", v)
		}
		return i, nil
	}
	return 0, errors.Errorf("value %#v (%T) is not an integer", raw, raw)
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, errors.Errorf("can't parse %q as a number", v)
		}
		return f, nil
	}
	return 0, errors.Errorf("value %#v (%T) is not a number", raw, raw)
}

func toString(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return "", errors.Errorf("value %#v (%T) is not a string", raw, raw)
}

// toList converts lists decoded from JSON or YAML ([]any), typed slices, comma-separated strings,
// and single values (as a list of one element).
func toList[E any](raw any, fn func(any) (E, error)) ([]E, error) {
	var elements []any
	switch v := raw.(type) {
	case []any:
		elements = v
	case string:
		v = strings.TrimSpace(v)
		v = strings.TrimSuffix(strings.TrimPrefix(v, "["), "]")
		if strings.TrimSpace(v) == "" {
			return []E{}, nil
		}
		elements = xslices.Map(strings.Split(v, ","), func(part string) any {
			return strings.Trim(strings.TrimSpace(part), `"`)
		})
	default:
		rv := reflect.ValueOf(raw)
		if rv.Kind() == reflect.Slice {
			elements = make([]any, rv.Len())
			for ii := range elements {
				elements[ii] = rv.Index(ii).Interface()
			}
		} else {
			elements = []any{raw}
		}
	}
	result := make([]E, len(elements))
	for ii, e := range elements {
		var err error
		result[ii], err = fn(e)
		if err != nil {
			return nil, errors.WithMessagef(err, "element #%d", ii)
		}
	}
	return result, nil
}
