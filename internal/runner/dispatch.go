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

	"github.com/deckhouse/kops-agent/internal/plugin"
)

var sshFields = []string{"host", "command", "username", "password", "key_path", "port", "timeout"}

// Execute dispatches one task to its plugin, or to the command runner for "command" tasks.
func (r *Runner) Execute(ctx context.Context, task Task) (any, error) {
	f := task.Fields
	switch task.Type {
	case TaskSystemCheck:
		return r.Check(ctx, f.GetString("check_type", defaultCheckType), nil)
	case TaskSSH:
		opts := plugin.Options{}
		for _, key := range sshFields {
			if f.Has(key) {
				opts[key] = f[key]
			}
		}
		return r.SSHExec(ctx, opts)
	case TaskK8s:
		return r.K8s(ctx, f.GetString("action", ""), f.GetMap("options"))
	case TaskNotify:
		return r.Notify(ctx, f.GetString("message", ""), f.GetMap("options"))
	case TaskGPT:
		return r.GPTAnalyze(ctx, f.GetString("content", ""), f.GetMap("options"))
	case TaskCommand:
		return r.RunCommand(ctx, f.GetString("command", ""))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, task.Type)
	}
}
