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
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dop251/goja"

	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
)

// RunScript evaluates a JavaScript task script.
// The runtime exposes only the DSL verbs. The value of the last expression
// becomes Summary.Output. Any fault aborts the whole script.
func (r *Runner) RunScript(ctx context.Context, source string) (*Summary, error) {
	ctx, _ = logging.EnsureTraceID(ctx)
	r.vars = make(map[string]any)
	r.verbErrs = make(map[*goja.Object]error)

	ctx, cancel := context.WithTimeout(ctx, r.scriptTimeout)
	defer cancel()

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(ctx.Err())
	})
	defer stop()

	if err := r.bind(ctx, vm); err != nil {
		return nil, err
	}

	value, err := vm.RunString(source)
	if err != nil {
		err = r.scriptFault(ctx, err)
		r.logger.Error(ctx, "Script task execution failed",
			slog.String("event", "script_failed"),
			logging.Err(err),
		)
		return nil, err
	}

	var output any
	if value != nil {
		output = value.Export()
	}
	return &Summary{
		Success:   true,
		Output:    output,
		Script:    true,
		Timestamp: r.now().UTC(),
	}, nil
}

func (r *Runner) scriptFault(ctx context.Context, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		cause := ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		return &ScriptError{Message: "script interrupted: " + cause.Error(), Err: cause}
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		if obj, ok := exc.Value().(*goja.Object); ok {
			if verbErr, ok := r.verbErrs[obj]; ok {
				return &ScriptError{Message: verbErr.Error(), Err: verbErr}
			}
		}
		return &ScriptError{Message: exc.Value().String(), Err: err}
	}
	return &ScriptError{Message: err.Error(), Err: err}
}

type verb func(ctx context.Context, call goja.FunctionCall) (any, error)

func (r *Runner) bind(ctx context.Context, vm *goja.Runtime) error {
	verbs := map[string]verb{
		"task": func(ctx context.Context, call goja.FunctionCall) (any, error) {
			return r.Task(ctx, argString(call.Argument(0)), r.block(vm, call.Argument(1)))
		},
		"on": func(ctx context.Context, call goja.FunctionCall) (any, error) {
			return r.On(ctx, argString(call.Argument(0)), r.block(vm, call.Argument(1)))
		},
		"if_over_threshold": func(ctx context.Context, call goja.FunctionCall) (any, error) {
			return r.IfOverThreshold(ctx, r.block(vm, call.Argument(0)))
		},
		"check": func(ctx context.Context, call goja.FunctionCall) (any, error) {
			return r.Check(ctx, argString(call.Argument(0)), exportOptions(call.Argument(1)))
		},
		"ssh_exec": func(ctx context.Context, call goja.FunctionCall) (any, error) {
			return r.SSHExec(ctx, exportOptions(call.Argument(0)))
		},
		"k8s": func(ctx context.Context, call goja.FunctionCall) (any, error) {
			return r.K8s(ctx, argString(call.Argument(0)), exportOptions(call.Argument(1)))
		},
		"notify": func(ctx context.Context, call goja.FunctionCall) (any, error) {
			return r.Notify(ctx, argString(call.Argument(0)), exportOptions(call.Argument(1)))
		},
		"gpt_analyze": func(ctx context.Context, call goja.FunctionCall) (any, error) {
			return r.GPTAnalyze(ctx, argString(call.Argument(0)), exportOptions(call.Argument(1)))
		},
		"plugin": func(ctx context.Context, call goja.FunctionCall) (any, error) {
			return r.Plugin(ctx, argString(call.Argument(0)), argString(call.Argument(1)), exportOptions(call.Argument(2)))
		},
		"run": func(ctx context.Context, call goja.FunctionCall) (any, error) {
			return r.RunCommand(ctx, argString(call.Argument(0)))
		},
		"set_variable": func(_ context.Context, call goja.FunctionCall) (any, error) {
			r.SetVariable(argString(call.Argument(0)), call.Argument(1).Export())
			return nil, nil
		},
		"get_variable": func(_ context.Context, call goja.FunctionCall) (any, error) {
			return r.GetVariable(argString(call.Argument(0))), nil
		},
		"print": func(ctx context.Context, call goja.FunctionCall) (any, error) {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			r.logger.Info(ctx, "Script output", slog.String("output", strings.Join(parts, " ")))
			return nil, nil
		},
	}

	for name, fn := range verbs {
		if err := vm.Set(name, r.native(ctx, vm, fn)); err != nil {
			return fmt.Errorf("bind %s: %w", name, err)
		}
	}
	return nil
}

// native adapts a verb to a goja function, turning Go errors into JS exceptions.
func (r *Runner) native(ctx context.Context, vm *goja.Runtime, fn verb) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		result, err := fn(ctx, call)
		if err != nil {
			var exc *goja.Exception
			if errors.As(err, &exc) {
				panic(exc)
			}
			obj := vm.NewGoError(err)
			r.verbErrs[obj] = err
			panic(obj)
		}
		if v, ok := result.(goja.Value); ok {
			return v
		}
		if result == nil {
			return goja.Undefined()
		}
		return vm.ToValue(result)
	}
}

// block wraps a JS callback as a Block. A missing callback evaluates to undefined.
func (r *Runner) block(vm *goja.Runtime, arg goja.Value) Block {
	return func(context.Context) (any, error) {
		fn, ok := goja.AssertFunction(arg)
		if !ok {
			return nil, nil
		}
		v, err := fn(goja.Undefined())
		if err != nil {
			return nil, err
		}
		if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
			return nil, nil
		}
		return v.Export(), nil
	}
}

func exportOptions(v goja.Value) plugin.Options {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return plugin.ToMap(v.Export())
}

func argString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
