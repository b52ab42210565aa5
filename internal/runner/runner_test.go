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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/deckhouse/kops-agent/internal/agent"
	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
)

type call struct {
	Plugin string
	Action plugin.Action
	Opts   plugin.Options
}

type fakeExecutor struct {
	calls   []call
	results map[string]any
	failOn  plugin.Action
}

func (f *fakeExecutor) Execute(_ context.Context, name string, action plugin.Action, opts plugin.Options) (any, error) {
	f.calls = append(f.calls, call{Plugin: name, Action: action, Opts: opts})
	if f.failOn != "" && action == f.failOn {
		return nil, fmt.Errorf("%s failed", action)
	}
	if res, ok := f.results[name+"/"+string(action)]; ok {
		return res, nil
	}
	return map[string]any{"plugin": name, "action": string(action)}, nil
}

type fakeCommands struct {
	commands []string
	fail     bool
}

func (f *fakeCommands) Run(_ context.Context, command string) error {
	f.commands = append(f.commands, command)
	if f.fail {
		return errors.New("exit status 1")
	}
	return nil
}

func newTestRunner(t *testing.T, exec agent.Executor, files map[string]string, opts ...Option) *Runner {
	t.Helper()
	fs := afero.NewMemMapFs()
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, name, []byte(content), 0o644))
	}
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithFs(fs), WithCommandRunner(&fakeCommands{}), WithClock(func() time.Time { return fixed })}, opts...)
	return New(exec, nil, opts...)
}

func TestRunSourceNotFound(t *testing.T) {
	r := newTestRunner(t, &fakeExecutor{}, nil)

	summary, err := r.Run(context.Background(), "/tasks/absent.yml")
	require.ErrorIs(t, err, ErrSourceNotFound)
	assert.Nil(t, summary)
}

func TestRunUnsupportedFormat(t *testing.T) {
	r := newTestRunner(t, &fakeExecutor{}, map[string]string{
		"/tasks/monitor.rb": "task 'x' do end",
		"/tasks/README":     "hello",
	})

	for _, source := range []string{"/tasks/monitor.rb", "/tasks/README"} {
		summary, err := r.Run(context.Background(), source)
		require.ErrorIs(t, err, ErrUnsupportedFormat, source)
		assert.Nil(t, summary)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRunner(t, exec, map[string]string{
		"/tasks/empty.yml":  "[]",
		"/tasks/blank.yaml": "",
		"/tasks/empty.json": "[]",
	})

	for _, source := range []string{"/tasks/empty.yml", "/tasks/blank.yaml", "/tasks/empty.json"} {
		summary, err := r.Run(context.Background(), source)
		require.NoError(t, err, source)
		assert.True(t, summary.Success)
		assert.Empty(t, summary.Results)
	}
	assert.Empty(t, exec.calls)
}

func TestRunParseFaultIsBatchLevel(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRunner(t, exec, map[string]string{
		"/tasks/broken.yml": "- type: system_check\n  check_type: [",
		"/tasks/scalar.yml": "- type: system_check\n- just a string\n",
	})

	for _, source := range []string{"/tasks/broken.yml", "/tasks/scalar.yml"} {
		summary, err := r.Run(context.Background(), source)
		require.Error(t, err, source)
		assert.Nil(t, summary)
	}
	assert.Empty(t, exec.calls, "no task runs when the batch cannot be parsed")
}

func TestRunSingleMapping(t *testing.T) {
	exec := &fakeExecutor{results: map[string]any{"system_check/cpu": map[string]any{"usage_percent": 42}}}
	r := newTestRunner(t, exec, map[string]string{
		"/tasks/cpu.yml": "type: system_check\ncheck_type: cpu\n",
	})

	summary, err := r.Run(context.Background(), "/tasks/cpu.yml")
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, map[string]any{"usage_percent": 42}, summary.Results[0].Value)
	assert.Equal(t, []call{{Plugin: "system_check", Action: "cpu", Opts: plugin.Options{}}}, exec.calls)
}

func TestRunUnknownAndMissingTypes(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRunner(t, exec, map[string]string{
		"/tasks/mixed.yml": `
- type: unknown_type
- check_type: cpu
- type: system_check
`,
	})

	summary, err := r.Run(context.Background(), "/tasks/mixed.yml")
	require.NoError(t, err)
	assert.True(t, summary.Success)
	require.Len(t, summary.Results, 3)

	assert.ErrorIs(t, summary.Results[0].Err, ErrUnknownTaskType)
	assert.Contains(t, summary.Results[0].Err.Error(), "unknown_type")
	assert.ErrorIs(t, summary.Results[1].Err, ErrUnknownTaskType)
	assert.False(t, summary.Results[2].Failed())

	var taskErr *TaskError
	require.ErrorAs(t, summary.Results[0].Err, &taskErr)
	assert.Equal(t, TaskType("unknown_type"), taskErr.Task.Type)

	require.Len(t, exec.calls, 1)
	assert.Equal(t, plugin.Action("all"), exec.calls[0].Action, "system_check defaults to all")
}

func TestDispatchOptionShapes(t *testing.T) {
	exec := &fakeExecutor{}
	commands := &fakeCommands{}
	r := newTestRunner(t, exec, map[string]string{
		"/tasks/all.json": `[
  {"type": "ssh", "host": "web-1", "command": "uptime", "username": "ops", "ignored": true},
  {"type": "k8s", "action": "pods", "options": {"namespace": "production"}},
  {"type": "notify", "message": "disk is full", "options": {"platform": "telegram", "level": "warning"}},
  {"type": "notify", "message": "hello"},
  {"type": "gpt", "content": "OOMKilled", "options": {"model": "gpt-4o"}},
  {"type": "command", "command": "echo ok"}
]`,
	}, WithCommandRunner(commands))

	summary, err := r.Run(context.Background(), "/tasks/all.json")
	require.NoError(t, err)
	require.Len(t, summary.Results, 6)
	for i, res := range summary.Results {
		assert.NoError(t, res.Err, "task %d", i+1)
	}

	require.Len(t, exec.calls, 5)
	assert.Equal(t, call{Plugin: PluginSSH, Action: "exec", Opts: plugin.Options{"host": "web-1", "command": "uptime", "username": "ops"}}, exec.calls[0])
	assert.Equal(t, call{Plugin: PluginK8s, Action: "pods", Opts: plugin.Options{"namespace": "production"}}, exec.calls[1])
	assert.Equal(t, call{Plugin: PluginNotifier, Action: "telegram", Opts: plugin.Options{"message": "disk is full", "level": "warning"}}, exec.calls[2])
	assert.Equal(t, call{Plugin: PluginNotifier, Action: "webhook", Opts: plugin.Options{"message": "hello"}}, exec.calls[3])
	assert.Equal(t, call{Plugin: PluginGPT, Action: "analyze_log", Opts: plugin.Options{"log_content": "OOMKilled", "model": "gpt-4o"}}, exec.calls[4])

	assert.Equal(t, true, summary.Results[5].Value)
	assert.Equal(t, []string{"echo ok"}, commands.commands)
}

func TestDispatchRequiredFields(t *testing.T) {
	exec := &fakeExecutor{}
	r := newTestRunner(t, exec, nil)

	cases := []map[string]any{
		{"type": "ssh", "command": "uptime"},
		{"type": "ssh", "host": "web-1"},
		{"type": "k8s"},
		{"type": "notify"},
		{"type": "command"},
	}
	for _, fields := range cases {
		_, err := r.Execute(context.Background(), NewTask(fields))
		assert.Error(t, err, "%v", fields)
	}
	assert.Empty(t, exec.calls)
}

func TestCommandTasks(t *testing.T) {
	t.Run("non zero exit is a false result", func(t *testing.T) {
		commands := &fakeCommands{fail: true}
		r := newTestRunner(t, &fakeExecutor{}, nil, WithCommandRunner(commands))

		value, err := r.Execute(context.Background(), NewTask(map[string]any{"type": "command", "command": "false"}))
		require.NoError(t, err)
		assert.Equal(t, false, value)
	})

	t.Run("disabled by configuration", func(t *testing.T) {
		cfg := config.New()
		cfg.Set(config.KeyAllowCommands, false)
		commands := &fakeCommands{}
		r := newTestRunner(t, &fakeExecutor{}, nil, WithCommandRunner(commands), WithConfig(cfg))

		_, err := r.Execute(context.Background(), NewTask(map[string]any{"type": "command", "command": "rm -rf /tmp/x"}))
		require.ErrorIs(t, err, ErrCommandsDisabled)
		assert.Empty(t, commands.commands)
	})
}

func TestFailingTaskDoesNotStopBatch(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")
		k := rapid.IntRange(1, n).Draw(t, "k")

		var sb strings.Builder
		for i := 1; i <= n; i++ {
			action := "pods"
			if i == k {
				action = "boom"
			}
			fmt.Fprintf(&sb, "- type: k8s\n  action: %s\n  options:\n    index: %d\n", action, i)
		}

		exec := &fakeExecutor{failOn: "boom"}
		fs := afero.NewMemMapFs()
		if err := afero.WriteFile(fs, "/batch.yml", []byte(sb.String()), 0o644); err != nil {
			t.Fatal(err)
		}
		r := New(exec, nil, WithFs(fs))

		summary, err := r.Run(context.Background(), "/batch.yml")
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if !summary.Success || len(summary.Results) != n {
			t.Fatalf("got success=%v with %d results, want %d", summary.Success, len(summary.Results), n)
		}
		if len(exec.calls) != n {
			t.Fatalf("executed %d tasks, want %d", len(exec.calls), n)
		}
		for i, res := range summary.Results {
			index := res.Task.Fields.GetMap("options")["index"]
			if fmt.Sprint(index) != fmt.Sprint(i+1) {
				t.Fatalf("result %d belongs to task %v", i+1, index)
			}
			if (i+1 == k) != res.Failed() {
				t.Fatalf("result %d failed=%v, only task %d should fail", i+1, res.Failed(), k)
			}
		}
		var taskErr *TaskError
		if !errors.As(summary.Results[k-1].Err, &taskErr) || taskErr.Task.Fields.GetString("action", "") != "boom" {
			t.Fatalf("failure does not carry its task: %v", summary.Results[k-1].Err)
		}
	})
}

func TestSummaryJSON(t *testing.T) {
	task := NewTask(map[string]any{"type": "unknown_type"})
	summary := Summary{
		Success: true,
		Results: []Result{
			{Value: map[string]any{"usage_percent": 42}},
			{Err: &TaskError{Task: task, Err: ErrUnknownTaskType}, Task: task},
		},
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(summary)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": true,
		"timestamp": "2025-06-01T12:00:00Z",
		"results": [
			{"usage_percent": 42},
			{"error": "unknown task type", "task": {"type": "unknown_type"}}
		]
	}`, string(data))

	data, err = json.Marshal(Summary{Success: true})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"results":[]`)

	data, err = json.Marshal(Summary{Success: true, Script: true, Output: 7})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"result":7`)
}

type brokenPlugin struct {
	plugin.Base
}

func (b brokenPlugin) Info(ctx context.Context) plugin.Info {
	return plugin.Describe(ctx, b)
}

func capturedLogger() (*logging.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	sink := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logging.New(sink, logging.WithLevel(logging.LevelDebug)), buf
}

func logRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		rec := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestRunSharesOneTraceIDAcrossLayers(t *testing.T) {
	logger, buf := capturedLogger()
	reg := agent.NewRegistry(logger)
	reg.Register(brokenPlugin{Base: plugin.NewBase(PluginK8s, "broken", "1.0.0", "pods")})
	buf.Reset()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/tasks/k8s.yml", []byte("- type: k8s\n  action: pods\n"), 0o644))
	r := New(reg, logger, WithFs(fs))

	summary, err := r.Run(context.Background(), "/tasks/k8s.yml")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Failed())

	ids := map[string]struct{}{}
	events := map[string]bool{}
	for _, rec := range logRecords(t, buf) {
		id, _ := rec["trace_id"].(string)
		require.NotEmpty(t, id, rec["msg"])
		ids[id] = struct{}{}
		if ev, ok := rec["event"].(string); ok {
			events[ev] = true
		}
	}
	assert.Len(t, ids, 1, "every record of one run carries the same trace id")
	assert.True(t, events["execution_failed"])
	assert.True(t, events["task_failed"])
}

func TestRunDataKeepsCallerTraceID(t *testing.T) {
	logger, buf := capturedLogger()
	r := New(&fakeExecutor{}, logger, WithFs(afero.NewMemMapFs()))

	ctx := logging.WithTraceID(context.Background(), "caller-trace")
	_, err := r.RunData(ctx, []byte("- type: bogus\n"))
	require.NoError(t, err)

	recs := logRecords(t, buf)
	require.NotEmpty(t, recs)
	for _, rec := range recs {
		assert.Equal(t, "caller-trace", rec["trace_id"], rec["msg"])
	}
}
