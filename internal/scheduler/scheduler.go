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
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/runner"
)

var (
	ErrJobExists   = errors.New("job already scheduled")
	ErrInvalidTime = errors.New("invalid schedule time")
)

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Kind is the trigger type of a job.
type Kind string

const (
	KindAt    Kind = "at"
	KindIn    Kind = "in"
	KindEvery Kind = "every"
	KindCron  Kind = "cron"
)

// Runner executes one task source. *runner.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, source string) (*runner.Summary, error)
}

// Factory returns a fresh Runner for every execution so variable stores are never shared.
type Factory func() Runner

// JobInfo describes a scheduled job.
type JobInfo struct {
	Name     string    `json:"name" yaml:"name"`
	Kind     Kind      `json:"kind" yaml:"kind"`
	Original string    `json:"original" yaml:"original"`
	Source   string    `json:"source" yaml:"source"`
	Next     time.Time `json:"next_time" yaml:"next_time"`
	Running  bool      `json:"running" yaml:"running"`
}

type job struct {
	name     string
	kind     Kind
	original string
	source   string
	entryID  cron.EntryID
	running  atomic.Bool
}

// Scheduler runs task sources on at / in / every / cron triggers.
type Scheduler struct {
	cron    *cron.Cron
	factory Factory
	logger  *logging.Logger
	now     func() time.Time

	mu      sync.Mutex
	jobs    map[string]*job
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New creates a stopped scheduler.
func New(factory Factory, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		factory: factory,
		logger:  logger,
		now:     time.Now,
		jobs:    make(map[string]*job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// At runs source once at t.
func (s *Scheduler) At(name string, t time.Time, source string) error {
	if !t.After(s.now()) {
		return fmt.Errorf("%w: %s is in the past", ErrInvalidTime, t.Format(time.RFC3339))
	}
	return s.add(name, KindAt, t.Format(time.RFC3339), source, &onceSchedule{at: t})
}

// In runs source once after delay.
func (s *Scheduler) In(name string, delay time.Duration, source string) error {
	if delay <= 0 {
		return fmt.Errorf("%w: delay %s must be positive", ErrInvalidTime, delay)
	}
	return s.add(name, KindIn, delay.String(), source, &onceSchedule{at: s.now().Add(delay)})
}

// Every runs source repeatedly. Intervals are rounded to whole seconds.
func (s *Scheduler) Every(name string, interval time.Duration, source string) error {
	if interval <= 0 {
		return fmt.Errorf("%w: interval %s must be positive", ErrInvalidTime, interval)
	}
	return s.add(name, KindEvery, interval.String(), source, cron.Every(interval))
}

// Cron runs source on a cron expression (5 or 6 fields, or a descriptor such as @hourly).
func (s *Scheduler) Cron(name, expr, source string) error {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return s.add(name, KindCron, expr, source, sched)
}

func (s *Scheduler) add(name string, kind Kind, original, source string, sched cron.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}

	j := &job{name: name, kind: kind, original: original, source: source}
	j.entryID = s.cron.Schedule(sched, cron.FuncJob(func() { s.execute(j) }))
	s.jobs[name] = j

	s.logger.Info(context.Background(), "Task scheduled",
		slog.String("task", name),
		slog.String(string(kind), original),
		slog.String("source", source),
	)
	return nil
}

// Cancel unschedules a job. It reports false when no job has that name.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	s.cron.Remove(j.entryID)
	s.logger.Info(context.Background(), "Task cancelled", slog.String("task", name))
	return true
}

// Jobs lists the scheduled jobs ordered by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobInfo{
			Name:     j.name,
			Kind:     j.kind,
			Original: j.original,
			Source:   j.source,
			Next:     s.cron.Entry(j.entryID).Next,
			Running:  j.running.Load(),
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.logger.Info(context.Background(), "Starting scheduler", slog.Int("jobs", len(s.jobs)))
	s.cron.Start()
	s.running = true
}

// Stop halts the scheduler and cancels in-flight runs. The returned context is
// done once running jobs have returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info(context.Background(), "Stopping scheduler")
	s.running = false
	s.cancel()
	return s.cron.Stop()
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Load schedules every spec, collecting all failures.
func (s *Scheduler) Load(specs []JobSpec) error {
	var result *multierror.Error
	for _, spec := range specs {
		if err := s.schedule(spec); err != nil {
			result = multierror.Append(result, fmt.Errorf("job %q: %w", spec.Name, err))
		}
	}
	return result.ErrorOrNil()
}

func (s *Scheduler) execute(j *job) {
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	ctx, _ := logging.EnsureTraceID(base)
	j.running.Store(true)
	defer j.running.Store(false)

	s.logger.Info(ctx, "Executing scheduled task", slog.String("task", j.name))
	start := time.Now()

	summary, err := s.factory().Run(ctx, j.source)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error(ctx, "Scheduled task failed",
			slog.String("task", j.name),
			slog.Duration("duration", duration),
			logging.Err(err),
		)
	} else {
		s.logger.Info(ctx, "Scheduled task completed",
			slog.String("task", j.name),
			slog.Duration("duration", duration),
			slog.Int("results", len(summary.Results)),
			slog.Int("failed", summary.Failed()),
		)
	}

	if j.kind == KindAt || j.kind == KindIn {
		s.mu.Lock()
		if s.jobs[j.name] == j {
			delete(s.jobs, j.name)
		}
		s.mu.Unlock()
		s.cron.Remove(j.entryID)
	}
}

// onceSchedule fires a single time.
type onceSchedule struct {
	at time.Time
}

func (o *onceSchedule) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

// cronLogger routes cron library messages to the structured logger.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(context.Background(), "cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(context.Background(), "cron: "+msg, append(keysAndValues, logging.Err(err))...)
}
