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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/lo"

	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
)

// Executor is the execution boundary used by the task runner and the HTTP surface.
type Executor interface {
	Execute(ctx context.Context, name string, action plugin.Action, opts plugin.Options) (any, error)
}

// Execution describes a single plugin call
type Execution struct {
	Plugin  string
	Action  plugin.Action
	Options plugin.Options
	TraceID string
}

// Registry owns the plugin instances and executes them on behalf of callers.
// Every execution is logged and every plugin fault is annotated and forwarded.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]plugin.Plugin
	order   []string

	logger  *logging.Logger
	metrics *Metrics
}

type Option func(*Registry)

// WithMetrics records executions in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Registry{
		plugins: make(map[string]plugin.Plugin),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register inserts p or replaces the plugin registered under the same name.
// A replaced plugin keeps its original position in List.
func (r *Registry) Register(p plugin.Plugin) {
	d := p.Descriptor()

	r.mu.Lock()
	if _, exists := r.plugins[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.plugins[d.Name] = p
	count := len(r.plugins)
	r.mu.Unlock()

	ctx := context.Background()
	if _, err := semver.NewVersion(d.Version); err != nil {
		r.logger.Warn(ctx, "Plugin version is not a semantic version",
			slog.String("name", d.Name),
			slog.String("version", d.Version),
			logging.Err(err),
		)
	}

	r.metrics.setPlugins(count)
	r.logger.Info(ctx, "Plugin registered",
		slog.String("event", "plugin_registered"),
		slog.String("name", d.Name),
		slog.String("version", d.Version),
	)
}

// Lookup returns the plugin registered under name (exact match).
func (r *Registry) Lookup(name string) (plugin.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns plugin names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// List describes every plugin in registration order, probing availability now.
func (r *Registry) List(ctx context.Context) []plugin.Info {
	r.mu.RLock()
	plugins := lo.Map(r.order, func(name string, _ int) plugin.Plugin { return r.plugins[name] })
	r.mu.RUnlock()

	return lo.Map(plugins, func(p plugin.Plugin, _ int) plugin.Info {
		return describe(ctx, p)
	})
}

// Info describes a single plugin.
func (r *Registry) Info(ctx context.Context, name string) (plugin.Info, bool) {
	p, ok := r.Lookup(name)
	if !ok {
		return plugin.Info{}, false
	}
	return describe(ctx, p), true
}

// Execute looks the plugin up, probes it and runs the action.
// The plugin result is returned unchanged; plugin faults are returned as *ExecutionError.
func (r *Registry) Execute(ctx context.Context, name string, action plugin.Action, opts plugin.Options) (any, error) {
	ctx, traceID := logging.EnsureTraceID(ctx)
	exec := Execution{Plugin: name, Action: action, Options: opts, TraceID: traceID}

	p, ok := r.Lookup(name)
	if !ok {
		err := notFound(name)
		r.metrics.observe(name, statusNotFound, 0)
		r.logger.Error(ctx, "Plugin execution failed", exec.failedAttrs(err)...)
		return nil, err
	}

	if !plugin.Probe(ctx, p) {
		err := unavailable(name)
		r.metrics.observe(name, statusUnavailable, 0)
		r.logger.Error(ctx, "Plugin execution failed", exec.failedAttrs(err)...)
		return nil, err
	}

	r.logger.Info(ctx, "Executing plugin",
		slog.String("event", "execution_started"),
		slog.String("plugin", name),
		slog.String("action", action.String()),
		slog.Any("options", opts),
	)

	start := time.Now()
	result, err := invoke(ctx, p, action, opts)
	elapsed := time.Since(start)
	if err != nil {
		execErr := &ExecutionError{Plugin: name, Action: action, Err: err}
		r.metrics.observe(name, statusFailed, elapsed)
		r.logger.Error(ctx, "Plugin execution failed", exec.failedAttrs(execErr)...)
		return nil, execErr
	}

	r.metrics.observe(name, statusSuccess, elapsed)
	r.logger.Info(ctx, "Plugin execution completed",
		slog.String("event", "execution_completed"),
		slog.String("plugin", name),
		slog.Duration("duration", elapsed),
	)
	return result, nil
}

// invoke turns a panicking plugin into a regular fault.
func invoke(ctx context.Context, p plugin.Plugin, action plugin.Action, opts plugin.Options) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, fmt.Errorf("plugin panicked: %v", rec)
		}
	}()
	return p.Execute(ctx, action, opts)
}

func describe(ctx context.Context, p plugin.Plugin) (info plugin.Info) {
	defer func() {
		if recover() != nil {
			info = plugin.Describe(ctx, p)
		}
	}()
	return p.Info(ctx)
}

func (e Execution) failedAttrs(err error) []any {
	return []any{
		slog.String("event", "execution_failed"),
		slog.String("plugin", e.Plugin),
		slog.String("action", e.Action.String()),
		logging.Err(err),
	}
}
