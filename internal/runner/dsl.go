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

package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
)

// Names of the plugins the verbs delegate to.
const (
	PluginSystemCheck = "system_check"
	PluginSSH         = "ssh_remote"
	PluginK8s         = "k8s_agent"
	PluginNotifier    = "notifier"
	PluginGPT         = "gpt_support"
)

const (
	defaultCheckType = "all"
	defaultPlatform  = "webhook"
)

// Block is the body of a scoping verb.
type Block func(ctx context.Context) (any, error)

// Task evaluates fn as a named unit, logging entry and exit.
func (r *Runner) Task(ctx context.Context, name string, fn Block) (any, error) {
	r.logger.Info(ctx, "Executing task", slog.String("name", name))
	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info(ctx, "Task completed", slog.String("name", name), slog.Any("result", result))
	return result, nil
}

// On evaluates fn for host, logging entry and exit.
func (r *Runner) On(ctx context.Context, host string, fn Block) (any, error) {
	r.logger.Info(ctx, "Executing on host", slog.String("host", host))
	result, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info(ctx, "Host execution completed", slog.String("host", host), slog.Any("result", result))
	return result, nil
}

// IfOverThreshold evaluates fn unconditionally. Threshold checks belong to the block body.
func (r *Runner) IfOverThreshold(ctx context.Context, fn Block) (any, error) {
	return fn(ctx)
}

// Check runs a system check. "system" and "all" run every check unless opts names a check_type.
func (r *Runner) Check(ctx context.Context, checkType string, opts plugin.Options) (any, error) {
	var action string
	switch checkType {
	case "system", "all":
		action = opts.GetString("check_type", defaultCheckType)
	case "cpu", "memory", "disk", "services":
		action = checkType
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCheckType, checkType)
	}

	rest := opts.Clone()
	delete(rest, "check_type")
	return r.exec.Execute(ctx, PluginSystemCheck, plugin.Action(action), rest)
}

// SSHExec runs opts["command"] on opts["host"].
func (r *Runner) SSHExec(ctx context.Context, opts plugin.Options) (any, error) {
	for _, key := range []string{"host", "command"} {
		if _, err := opts.RequireString(key); err != nil {
			return nil, fmt.Errorf("ssh: %w", err)
		}
	}
	return r.exec.Execute(ctx, PluginSSH, "exec", opts)
}

func (r *Runner) K8s(ctx context.Context, action string, opts plugin.Options) (any, error) {
	if action == "" {
		return nil, fmt.Errorf("k8s: option %q is required", "action")
	}
	return r.exec.Execute(ctx, PluginK8s, plugin.Action(action), opts)
}

// Notify sends message through opts["platform"], the generic webhook by default.
func (r *Runner) Notify(ctx context.Context, message string, opts plugin.Options) (any, error) {
	merged := plugin.Options{"message": message}.Merge(opts)
	if _, err := merged.RequireString("message"); err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	platform := merged.GetString("platform", defaultPlatform)
	delete(merged, "platform")
	return r.exec.Execute(ctx, PluginNotifier, plugin.Action(platform), merged)
}

func (r *Runner) GPTAnalyze(ctx context.Context, content string, opts plugin.Options) (any, error) {
	return r.exec.Execute(ctx, PluginGPT, "analyze_log", plugin.Options{"log_content": content}.Merge(opts))
}

// Plugin calls any registered plugin.
func (r *Runner) Plugin(ctx context.Context, name, action string, opts plugin.Options) (any, error) {
	return r.exec.Execute(ctx, name, plugin.Action(action), opts)
}

// RunCommand executes command synchronously outside the plugin pipeline and
// reports whether it exited with status zero.
func (r *Runner) RunCommand(ctx context.Context, command string) (bool, error) {
	if command == "" {
		return false, fmt.Errorf("command: option %q is required", "command")
	}
	if !r.allowCommands {
		r.logger.Error(ctx, "Command execution failed",
			slog.String("event", "execution_failed"),
			slog.String("command", command),
			logging.Err(ErrCommandsDisabled),
		)
		return false, ErrCommandsDisabled
	}

	r.logger.Info(ctx, "Executing command",
		slog.String("event", "execution_started"),
		slog.String("command", command),
	)
	start := time.Now()
	if err := r.commands.Run(ctx, command); err != nil {
		r.logger.Error(ctx, "Command execution failed",
			slog.String("event", "execution_failed"),
			slog.String("command", command),
			logging.Err(err),
		)
		return false, nil
	}
	r.logger.Info(ctx, "Command execution completed",
		slog.String("event", "execution_completed"),
		slog.String("command", command),
		slog.Duration("duration", time.Since(start)),
	)
	return true, nil
}

func (r *Runner) SetVariable(name string, value any) {
	r.vars[name] = value
}

// GetVariable returns nil for unknown names.
func (r *Runner) GetVariable(name string) any {
	return r.vars[name]
}
