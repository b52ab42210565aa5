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
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/spf13/afero"

	"github.com/deckhouse/kops-agent/internal/agent"
	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
)

const defaultScriptTimeout = 5 * time.Minute

// Runner executes task sources against a plugin executor.
// A Runner holds the variable store of the script path and must not be shared
// between concurrent runs; create one per run.
type Runner struct {
	exec   agent.Executor
	logger *logging.Logger

	fs            afero.Fs
	commands      CommandRunner
	allowCommands bool
	scriptTimeout time.Duration
	now           func() time.Time

	vars     map[string]any
	verbErrs map[*goja.Object]error
}

type Option func(*Runner)

// WithFs resolves task sources on fs instead of the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(r *Runner) {
		r.fs = fs
	}
}

func WithCommandRunner(c CommandRunner) Option {
	return func(r *Runner) {
		r.commands = c
	}
}

// WithConfig applies the runner.* settings.
func WithConfig(cfg config.Accessor) Option {
	return func(r *Runner) {
		if cfg.IsSet(config.KeyAllowCommands) {
			r.allowCommands = cfg.GetBool(config.KeyAllowCommands)
		}
		if d := config.Duration(cfg, config.KeyScriptTimeout); d > 0 {
			r.scriptTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

func New(exec agent.Executor, logger *logging.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		exec:          exec,
		logger:        logger,
		fs:            afero.NewOsFs(),
		commands:      NewShellRunner(),
		allowCommands: true,
		scriptTimeout: defaultScriptTimeout,
		now:           time.Now,
		vars:          make(map[string]any),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the task source at path.
// .yml, .yaml and .json files hold structured tasks, .js files hold scripts.
// Batch level faults are returned as errors and never come with partial results.
func (r *Runner) Run(ctx context.Context, source string) (*Summary, error) {
	ctx, _ = logging.EnsureTraceID(ctx)
	exists, err := afero.Exists(r.fs, source)
	if err != nil {
		return nil, r.batchFault(ctx, source, fmt.Errorf("stat %s: %w", source, err))
	}
	if !exists {
		return nil, r.batchFault(ctx, source, fmt.Errorf("%w: %s", ErrSourceNotFound, source))
	}

	ext := strings.ToLower(filepath.Ext(source))
	switch ext {
	case ".yml", ".yaml", ".json", ".js":
	default:
		return nil, r.batchFault(ctx, source, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext))
	}

	content, err := afero.ReadFile(r.fs, source)
	if err != nil {
		return nil, r.batchFault(ctx, source, fmt.Errorf("read %s: %w", source, err))
	}

	r.logger.Info(ctx, "Running task source", slog.String("source", source))
	if ext == ".js" {
		return r.RunScript(ctx, string(content))
	}
	return r.RunData(ctx, content)
}

// RunData executes a YAML or JSON document of tasks.
// Every task runs even if a previous one failed.
func (r *Runner) RunData(ctx context.Context, content []byte) (*Summary, error) {
	ctx, _ = logging.EnsureTraceID(ctx)
	tasks, err := parseTasks(content)
	if err != nil {
		r.logger.Error(ctx, "Data task execution failed", logging.Err(err))
		return nil, err
	}

	results := make([]Result, 0, len(tasks))
	for i, task := range tasks {
		r.logger.Debug(ctx, "Executing task",
			slog.Int("index", i+1),
			slog.String("type", string(task.Type)),
		)

		value, err := r.Execute(ctx, task)
		if err != nil {
			r.logger.Error(ctx, "Task execution failed",
				slog.String("event", "task_failed"),
				slog.Any("task", map[string]any(task.Fields)),
				logging.Err(err),
			)
			results = append(results, Result{Err: &TaskError{Task: task, Err: err}, Task: task})
			continue
		}
		results = append(results, Result{Value: value, Task: task})
	}

	return &Summary{
		Success:   true,
		Results:   results,
		Timestamp: r.now().UTC(),
	}, nil
}

func (r *Runner) batchFault(ctx context.Context, source string, err error) error {
	r.logger.Error(ctx, "Task source rejected",
		slog.String("source", source),
		logging.Err(err),
	)
	return err
}
