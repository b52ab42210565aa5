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

package systemcheck

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckhouse/kops-agent/internal/plugin"
)

func writeProc(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"stat":    "cpu  100 0 100 700 100 0 0 0 0 0\ncpu0 100 0 100 700 100 0 0 0 0 0\nbtime 1700000000\nprocesses 42\n",
		"loadavg": "0.50 0.25 0.10 2/300 4242\n",
		"meminfo": "MemTotal:           1000 kB\nMemFree:             100 kB\nMemAvailable:        250 kB\n",
		"1/mountinfo": "22 1 8:1 / / rw,relatime shared:1 - ext4 /dev/sda1 rw\n" +
			"23 22 0:21 / /proc rw,nosuid shared:12 - proc proc rw\n" +
			"24 22 8:2 / /data rw,relatime shared:2 - xfs /dev/sdb1 rw\n",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func fakeStatFS(path string) (uint64, uint64, error) {
	switch path {
	case "/":
		return 1000, 400, nil
	case "/data":
		return 2000, 2000, nil
	}
	return 0, 0, errors.New("permission denied")
}

func newTestPlugin(t *testing.T, probe ServiceProbe) *Plugin {
	t.Helper()
	if probe == nil {
		probe = func(_ context.Context, name string) (bool, error) { return name == "docker", nil }
	}
	return New(nil, nil,
		WithProcRoot(writeProc(t)),
		WithMountsOf(1),
		WithStatFS(fakeStatFS),
		WithServiceProbe(probe),
	)
}

func TestCPU(t *testing.T) {
	p := newTestPlugin(t, nil)

	got, err := p.Execute(context.Background(), ActionCPU, nil)
	require.NoError(t, err)
	cpu := got.(CPU)
	assert.InDelta(t, 30.0, cpu.UsagePercent, 0.001)
	assert.Positive(t, cpu.Cores)
	assert.Equal(t, [3]float64{0.5, 0.25, 0.1}, cpu.LoadAverage)
}

func TestMemory(t *testing.T) {
	p := newTestPlugin(t, nil)

	got, err := p.Execute(context.Background(), ActionMemory, nil)
	require.NoError(t, err)
	assert.Equal(t, Memory{TotalKB: 1000, UsedKB: 750, AvailableKB: 250, UsagePercent: 75}, got)
}

func TestDiskSkipsUnreadableMounts(t *testing.T) {
	p := newTestPlugin(t, nil)

	got, err := p.Execute(context.Background(), ActionDisk, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]Disk{
		"/": {
			Filesystem:     "/dev/sda1",
			TotalBytes:     1000,
			UsedBytes:      600,
			AvailableBytes: 400,
			UsagePercent:   60,
		},
		"/data": {
			Filesystem:     "/dev/sdb1",
			TotalBytes:     2000,
			UsedBytes:      0,
			AvailableBytes: 2000,
			UsagePercent:   0,
		},
	}, got)
}

func TestServices(t *testing.T) {
	p := newTestPlugin(t, func(_ context.Context, name string) (bool, error) {
		switch name {
		case "docker":
			return true, nil
		case "kubelet":
			return false, errors.New("systemctl: not found")
		}
		return false, nil
	})

	got, err := p.Execute(context.Background(), ActionServices, plugin.Options{"services": []any{"docker", "kubelet", "nginx"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]Service{
		"docker":  {Name: "docker", Status: "running", Active: true},
		"kubelet": {Name: "kubelet", Status: "unknown", Error: "systemctl: not found"},
		"nginx":   {Name: "nginx", Status: "stopped"},
	}, got)

	all := p.Services(context.Background(), nil)
	assert.Len(t, all, len(DefaultServices))
}

func TestAll(t *testing.T) {
	p := newTestPlugin(t, nil)

	got, err := p.Execute(context.Background(), ActionAll, nil)
	require.NoError(t, err)
	report := got.(Report)
	assert.InDelta(t, 30.0, report.CPU.UsagePercent, 0.001)
	assert.InDelta(t, 75.0, report.Memory.UsagePercent, 0.001)
	assert.Len(t, report.Disk, 2)
	assert.True(t, report.Services["docker"].Active)
	assert.False(t, report.Timestamp.IsZero())
}

func TestUnknownActionAndAvailability(t *testing.T) {
	p := newTestPlugin(t, nil)

	_, err := p.Execute(context.Background(), "gpu", nil)
	require.ErrorIs(t, err, plugin.ErrUnknownAction)
	assert.True(t, p.Info(context.Background()).Available)

	missing := New(nil, nil, WithProcRoot(filepath.Join(t.TempDir(), "absent")))
	assert.False(t, missing.Available(context.Background()))
	_, err = missing.Execute(context.Background(), ActionMemory, nil)
	assert.Error(t, err)
}
