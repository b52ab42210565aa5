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
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotImplemented is returned by Base.Execute when a concrete plugin does not override it.
	ErrNotImplemented = errors.New("not implemented")
	// ErrUnknownAction matches every UnknownActionError.
	ErrUnknownAction = errors.New("unknown action")
)

// Action is a plugin specific operation selector.
// Every plugin family declares its own closed set of actions as constants.
type Action string

func (a Action) String() string {
	return string(a)
}

// Descriptor is the immutable identity of a plugin
type Descriptor struct {
	Name        string
	Description string
	Version     string
	Actions     []Action
}

// Info is the descriptor enriched with the availability computed at call time
type Info struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Version     string   `json:"version" yaml:"version"`
	Actions     []string `json:"actions,omitempty" yaml:"actions,omitempty"`
	Available   bool     `json:"available" yaml:"available"`
}

// Plugin is a capability module managed by the agent registry.
type Plugin interface {
	// Descriptor returns the identity fixed at construction.
	Descriptor() Descriptor
	// Execute performs the plugin work for the given action.
	Execute(ctx context.Context, action Action, opts Options) (any, error)
	// Available is a side-effect-light readiness probe. It must not fail.
	Available(ctx context.Context) bool
	// Info describes the plugin, recomputing availability.
	Info(ctx context.Context) Info
}

// Base provides the descriptor accessors and contract defaults for concrete plugins.
type Base struct {
	descriptor Descriptor
}

// NewBase creates a Base, defaulting the version to 1.0.0 like every built-in plugin
func NewBase(name, description, version string, actions ...Action) Base {
	if version == "" {
		version = "1.0.0"
	}
	return Base{descriptor: Descriptor{
		Name:        name,
		Description: description,
		Version:     version,
		Actions:     actions,
	}}
}

func (b Base) Descriptor() Descriptor {
	return b.descriptor
}

func (b Base) Name() string {
	return b.descriptor.Name
}

// Execute fails for plugins that did not provide their own implementation.
func (b Base) Execute(_ context.Context, action Action, _ Options) (any, error) {
	return nil, fmt.Errorf("plugin %q action %q: %w", b.descriptor.Name, action, ErrNotImplemented)
}

func (b Base) Available(_ context.Context) bool {
	return true
}

// UnknownAction builds the error returned from an exhaustive action switch.
func (b Base) UnknownAction(action Action) error {
	return &UnknownActionError{Plugin: b.descriptor.Name, Action: action, Known: b.descriptor.Actions}
}

// UnknownActionError reports an action that is not part of the plugin action set
type UnknownActionError struct {
	Plugin string
	Action Action
	Known  []Action
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("plugin %q: unknown action %q (supported: %v)", e.Plugin, e.Action, e.Known)
}

func (e *UnknownActionError) Is(target error) bool {
	return target == ErrUnknownAction
}

// Probe calls the plugin availability probe converting a panic into false.
func Probe(ctx context.Context, p Plugin) (available bool) {
	defer func() {
		if recover() != nil {
			available = false
		}
	}()
	return p.Available(ctx)
}

// Describe builds Info for p, probing it at call time.
func Describe(ctx context.Context, p Plugin) Info {
	d := p.Descriptor()
	actions := make([]string, 0, len(d.Actions))
	for _, a := range d.Actions {
		actions = append(actions, a.String())
	}
	return Info{
		Name:        d.Name,
		Description: d.Description,
		Version:     d.Version,
		Actions:     actions,
		Available:   Probe(ctx, p),
	}
}
