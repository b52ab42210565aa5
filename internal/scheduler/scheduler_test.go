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

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckhouse/kops-agent/internal/runner"
)

type fakeRunner struct {
	ran chan string
	err error
}

func (f *fakeRunner) Run(_ context.Context, source string) (*runner.Summary, error) {
	f.ran <- source
	if f.err != nil {
		return nil, f.err
	}
	return &runner.Summary{Success: true}, nil
}

func newTestScheduler(t *testing.T, err error) (*Scheduler, chan string, *atomic.Int32) {
	t.Helper()
	ran := make(chan string, 16)
	var created atomic.Int32
	s := New(func() Runner {
		created.Add(1)
		return &fakeRunner{ran: ran, err: err}
	}, nil)
	t.Cleanup(func() { <-s.Stop().Done() })
	return s, ran, &created
}

func TestInRunsOnceAndForgetsJob(t *testing.T) {
	s, ran, created := newTestScheduler(t, nil)
	require.NoError(t, s.In("disk", 30*time.Millisecond, "tasks/disk.yml"))
	s.Start()
	assert.True(t, s.Running())

	select {
	case source := <-ran:
		assert.Equal(t, "tasks/disk.yml", source)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}

	assert.Eventually(t, func() bool { return len(s.Jobs()) == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, created.Load())
	select {
	case <-ran:
		t.Fatal("one-shot job ran twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFailingRunDoesNotStopScheduler(t *testing.T) {
	s, ran, _ := newTestScheduler(t, errors.New("source missing"))
	require.NoError(t, s.In("a", 20*time.Millisecond, "a.yml"))
	require.NoError(t, s.In("b", 40*time.Millisecond, "b.yml"))
	s.Start()

	got := map[string]bool{}
	for range 2 {
		select {
		case source := <-ran:
			got[source] = true
		case <-time.After(5 * time.Second):
			t.Fatal("jobs did not run")
		}
	}
	assert.Equal(t, map[string]bool{"a.yml": true, "b.yml": true}, got)
}

func TestCancel(t *testing.T) {
	s, ran, _ := newTestScheduler(t, nil)
	require.NoError(t, s.In("later", 50*time.Millisecond, "x.yml"))
	s.Start()

	assert.True(t, s.Cancel("later"))
	assert.False(t, s.Cancel("later"))
	assert.Empty(t, s.Jobs())

	select {
	case <-ran:
		t.Fatal("cancelled job ran")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestJobsListing(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	require.NoError(t, s.Cron("nightly", "0 3 * * *", "nightly.yml"))
	require.NoError(t, s.Every("heartbeat", time.Minute, "beat.yml"))
	require.NoError(t, s.At("release", time.Now().Add(time.Hour), "release.js"))
	s.Start()

	jobs := s.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, []string{"heartbeat", "nightly", "release"}, []string{jobs[0].Name, jobs[1].Name, jobs[2].Name})
	assert.Equal(t, KindEvery, jobs[0].Kind)
	assert.Equal(t, "1m0s", jobs[0].Original)
	assert.Equal(t, KindCron, jobs[1].Kind)
	assert.Equal(t, "0 3 * * *", jobs[1].Original)
	assert.Equal(t, "nightly.yml", jobs[1].Source)

	assert.Eventually(t, func() bool {
		for _, j := range s.Jobs() {
			if j.Next.IsZero() {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScheduleValidation(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)

	assert.ErrorIs(t, s.At("past", time.Now().Add(-time.Minute), "a.yml"), ErrInvalidTime)
	assert.ErrorIs(t, s.In("zero", 0, "a.yml"), ErrInvalidTime)
	assert.ErrorIs(t, s.Every("neg", -time.Second, "a.yml"), ErrInvalidTime)
	assert.ErrorContains(t, s.Cron("bad", "61 * * * *", "a.yml"), "invalid cron expression")

	require.NoError(t, s.Cron("hourly", "@hourly", "a.yml"))
	assert.ErrorIs(t, s.Cron("hourly", "@daily", "a.yml"), ErrJobExists)
}

func TestLoadCollectsErrors(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)

	err := s.Load([]JobSpec{
		{Name: "ok", Source: "ok.yml", Every: "5m"},
		{Name: "no-trigger", Source: "x.yml"},
		{Name: "two-triggers", Source: "x.yml", Cron: "* * * * *", In: "1m"},
		{Name: "bad-duration", Source: "x.yml", Every: "soon"},
		{Source: "x.yml", Cron: "@daily"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"no-trigger"`)
	assert.Contains(t, err.Error(), `"two-triggers"`)
	assert.Contains(t, err.Error(), `"bad-duration"`)
	assert.Contains(t, err.Error(), "name is required")

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "ok", jobs[0].Name)
}
