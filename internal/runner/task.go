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
	"encoding/json"
	"fmt"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/deckhouse/kops-agent/internal/plugin"
)

// TaskType is the closed set of task kinds understood by the runner.
type TaskType string

const (
	TaskSystemCheck TaskType = "system_check"
	TaskSSH         TaskType = "ssh"
	TaskK8s         TaskType = "k8s"
	TaskNotify      TaskType = "notify"
	TaskGPT         TaskType = "gpt"
	TaskCommand     TaskType = "command"
)

// Task is one declarative unit of work. Fields holds the raw descriptor including "type".
type Task struct {
	Type   TaskType
	Fields plugin.Options
}

// NewTask builds a Task from a decoded mapping.
func NewTask(fields map[string]any) Task {
	opts := plugin.Options(fields).Clone()
	return Task{
		Type:   TaskType(opts.GetString("type", "")),
		Fields: opts,
	}
}

func (t Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(t.Fields))
}

// Result is the outcome of one task. Exactly one of Value or Err is meaningful.
type Result struct {
	Value any
	Err   error
	Task  Task
}

func (r Result) Failed() bool {
	return r.Err != nil
}

// MarshalJSON renders a success as the plugin payload and a failure as {error, task}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Err != nil {
		return json.Marshal(map[string]any{
			"error": r.Err.Error(),
			"task":  r.Task,
		})
	}
	return json.Marshal(r.Value)
}

// Summary is the outcome of a batch run.
// Success is false only for runner level faults, which are returned as errors instead.
type Summary struct {
	Success   bool
	Results   []Result
	Output    any
	Script    bool
	Timestamp time.Time
}

// Failed counts the failed task results.
func (s *Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if r.Failed() {
			n++
		}
	}
	return n
}

func (s Summary) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"success":   s.Success,
		"timestamp": s.Timestamp.UTC().Format(time.RFC3339),
	}
	if s.Script {
		out["result"] = s.Output
	} else {
		results := s.Results
		if results == nil {
			results = []Result{}
		}
		out["results"] = results
	}
	return json.Marshal(out)
}

// parseTasks decodes a YAML or JSON document holding one task mapping or a list of them.
func parseTasks(content []byte) ([]Task, error) {
	var doc any
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}

	switch v := doc.(type) {
	case nil:
		return []Task{}, nil
	case map[string]any:
		return []Task{NewTask(v)}, nil
	case []any:
		tasks := make([]Task, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("parse tasks: entry %d is %T, expected a mapping", i+1, item)
			}
			tasks = append(tasks, NewTask(m))
		}
		return tasks, nil
	default:
		return nil, fmt.Errorf("parse tasks: document is %T, expected a mapping or a list", doc)
	}
}
