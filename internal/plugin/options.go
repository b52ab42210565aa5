/*
Copyright 2025 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package plugin

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Options is the free-form option mapping passed to Plugin.Execute.
// Values come from YAML/JSON task files, script objects or CLI flags,
// so accessors are lenient about the concrete numeric and string types.
type Options map[string]any

// Clone returns a shallow copy, nil-safe.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Merge returns a copy of o overridden by other.
func (o Options) Merge(other map[string]any) Options {
	out := o.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (o Options) Has(key string) bool {
	v, ok := o[key]
	return ok && v != nil
}

func (o Options) GetString(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case string:
		if val == "" {
			return def
		}
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// RequireString returns the value for key or an error when it is missing or empty.
func (o Options) RequireString(key string) (string, error) {
	s := o.GetString(key, "")
	if s == "" {
		return "", fmt.Errorf("option %q is required", key)
	}
	return s, nil
}

func (o Options) GetInt(key string, def int) int {
	switch val := o[key].(type) {
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case uint:
		return int(val)
	case uint64:
		return int(val)
	case float32:
		return int(val)
	case float64:
		return int(val)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	return def
}

func (o Options) GetBool(key string, def bool) bool {
	switch val := o[key].(type) {
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
	}
	return def
}

// GetDuration accepts Go duration strings and plain numbers of seconds.
func (o Options) GetDuration(key string, def time.Duration) time.Duration {
	switch val := o[key].(type) {
	case time.Duration:
		return val
	case string:
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return d
		}
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return time.Duration(n) * time.Second
		}
	case int, int64, float64:
		return time.Duration(o.GetInt(key, 0)) * time.Second
	}
	return def
}

// GetMap returns a nested mapping, converting map[any]any produced by some YAML decoders.
func (o Options) GetMap(key string) map[string]any {
	return ToMap(o[key])
}

func (o Options) GetStrings(key string) []string {
	switch val := o[key].(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	}
	return nil
}

// ToMap converts v to a string keyed map, returning nil when it is not a mapping.
func ToMap(v any) map[string]any {
	switch val := v.(type) {
	case map[string]any:
		return val
	case Options:
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = item
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	}
	return nil
}
