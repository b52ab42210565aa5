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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeOnly struct {
	Base
	probe func() bool
}

func (p probeOnly) Available(context.Context) bool {
	return p.probe()
}

func (p probeOnly) Info(ctx context.Context) Info {
	return Describe(ctx, p)
}

func TestNewBaseDefaults(t *testing.T) {
	b := NewBase("system_check", "System checks", "", "cpu", "memory")

	d := b.Descriptor()
	assert.Equal(t, "system_check", d.Name)
	assert.Equal(t, "1.0.0", d.Version)
	assert.Equal(t, []Action{"cpu", "memory"}, d.Actions)
	assert.Equal(t, "system_check", b.Name())
	assert.True(t, b.Available(context.Background()))
}

func TestBaseExecuteNotImplemented(t *testing.T) {
	b := NewBase("x", "", "2.0.0")

	_, err := b.Execute(context.Background(), "run", nil)
	require.ErrorIs(t, err, ErrNotImplemented)
	assert.Contains(t, err.Error(), `"x"`)
}

func TestUnknownAction(t *testing.T) {
	b := NewBase("k8s_agent", "", "", "pods", "nodes")

	err := b.UnknownAction("deploy")
	require.ErrorIs(t, err, ErrUnknownAction)

	var uaErr *UnknownActionError
	require.ErrorAs(t, err, &uaErr)
	assert.Equal(t, Action("deploy"), uaErr.Action)
	assert.Contains(t, err.Error(), "deploy")
	assert.Contains(t, err.Error(), "pods")
}

func TestProbeConvertsPanicToFalse(t *testing.T) {
	ok := probeOnly{Base: NewBase("ok", "", ""), probe: func() bool { return true }}
	broken := probeOnly{Base: NewBase("broken", "", ""), probe: func() bool { panic("no credentials") }}

	assert.True(t, Probe(context.Background(), ok))
	assert.False(t, Probe(context.Background(), broken))
}

func TestDescribeRecomputesAvailability(t *testing.T) {
	available := false
	p := probeOnly{Base: NewBase("notifier", "Notifications", "1.2.3", "webhook"), probe: func() bool { return available }}

	info := p.Info(context.Background())
	assert.Equal(t, Info{
		Name:        "notifier",
		Description: "Notifications",
		Version:     "1.2.3",
		Actions:     []string{"webhook"},
		Available:   false,
	}, info)

	available = true
	assert.True(t, p.Info(context.Background()).Available)
}
