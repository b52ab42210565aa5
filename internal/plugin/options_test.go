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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsAccessors(t *testing.T) {
	opts := Options{
		"host":     "web-1",
		"empty":    "",
		"port":     float64(2222),
		"lines":    "50",
		"follow":   "true",
		"verbose":  true,
		"timeout":  "1m",
		"deadline": 15,
		"labels":   map[any]any{"app": "nginx"},
		"channels": []any{"ops", 7},
		"nil":      nil,
	}

	assert.Equal(t, "web-1", opts.GetString("host", "x"))
	assert.Equal(t, "x", opts.GetString("empty", "x"))
	assert.Equal(t, "x", opts.GetString("absent", "x"))
	assert.Equal(t, "2222", opts.GetString("port", ""))

	assert.Equal(t, 2222, opts.GetInt("port", 22))
	assert.Equal(t, 50, opts.GetInt("lines", 0))
	assert.Equal(t, 22, opts.GetInt("host", 22))

	assert.True(t, opts.GetBool("follow", false))
	assert.True(t, opts.GetBool("verbose", false))
	assert.True(t, opts.GetBool("absent", true))

	assert.Equal(t, time.Minute, opts.GetDuration("timeout", 0))
	assert.Equal(t, 15*time.Second, opts.GetDuration("deadline", 0))
	assert.Equal(t, time.Second, opts.GetDuration("absent", time.Second))

	assert.Equal(t, map[string]any{"app": "nginx"}, opts.GetMap("labels"))
	assert.Nil(t, opts.GetMap("host"))
	assert.Equal(t, []string{"ops", "7"}, opts.GetStrings("channels"))
	assert.Equal(t, []string{"web-1"}, opts.GetStrings("host"))

	assert.True(t, opts.Has("host"))
	assert.False(t, opts.Has("nil"))
	assert.False(t, opts.Has("absent"))
}

func TestRequireString(t *testing.T) {
	opts := Options{"command": "uptime", "blank": ""}

	v, err := opts.RequireString("command")
	require.NoError(t, err)
	assert.Equal(t, "uptime", v)

	_, err = opts.RequireString("blank")
	assert.ErrorContains(t, err, `"blank"`)
	_, err = opts.RequireString("absent")
	assert.Error(t, err)
}

func TestCloneAndMergeDoNotMutate(t *testing.T) {
	base := Options{"a": 1}

	merged := base.Merge(map[string]any{"a": 2, "b": 3})
	assert.Equal(t, Options{"a": 2, "b": 3}, merged)
	assert.Equal(t, Options{"a": 1}, base)

	var nilOpts Options
	assert.NotNil(t, nilOpts.Clone())
	assert.Empty(t, nilOpts.Clone())
}
