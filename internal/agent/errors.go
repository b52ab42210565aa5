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

package agent

import (
	"errors"
	"fmt"

	"github.com/deckhouse/kops-agent/internal/plugin"
)

var (
	ErrPluginNotFound    = errors.New("plugin not found")
	ErrPluginUnavailable = errors.New("plugin is not available")
)

// ExecutionError wraps a fault raised by Plugin.Execute.
// The message of the original fault is kept as is so callers see what the plugin reported.
type ExecutionError struct {
	Plugin string
	Action plugin.Action
	Err    error
}

func (e *ExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func notFound(name string) error {
	return fmt.Errorf("plugin %q: %w", name, ErrPluginNotFound)
}

func unavailable(name string) error {
	return fmt.Errorf("plugin %q: %w", name, ErrPluginUnavailable)
}
