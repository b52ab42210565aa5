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

package cli

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/deckhouse/kops-agent/internal/plugin"
)

// ReportedError is a failure already rendered on the command output.
type ReportedError struct {
	Err error
}

func (e *ReportedError) Error() string {
	return e.Err.Error()
}

func (e *ReportedError) Unwrap() error {
	return e.Err
}

var errBadArgument = errors.New("expected key=value")

// ParseOptions turns key=value arguments into plugin options.
// Values are read as YAML scalars, so port=22 is an int and tags=[a,b] is a list.
// A key containing dots builds nested mappings: labels.app=web.
func ParseOptions(args []string) (plugin.Options, error) {
	opts := plugin.Options{}
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q: %w", arg, errBadArgument)
		}

		if err := setPath(opts, strings.Split(key, "."), parseValue(raw)); err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg, err)
		}
	}
	return opts, nil
}

// parseValue keeps raw as a string unless it is a YAML scalar or a flow collection,
// so message=Disk: full stays text.
func parseValue(raw string) any {
	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	switch value.(type) {
	case bool, int, uint64, float64:
		return value
	case []any, map[string]any:
		if strings.HasPrefix(raw, "[") || strings.HasPrefix(raw, "{") {
			return value
		}
	case nil:
		if raw == "null" || raw == "~" {
			return nil
		}
	}
	return raw
}

func setPath(m map[string]any, path []string, value any) error {
	if len(path) == 1 {
		m[path[0]] = value
		return nil
	}
	child, ok := m[path[0]]
	if !ok {
		child = map[string]any{}
		m[path[0]] = child
	}
	nested, ok := child.(map[string]any)
	if !ok {
		return fmt.Errorf("%s is already set to a scalar", path[0])
	}
	return setPath(nested, path[1:], value)
}
