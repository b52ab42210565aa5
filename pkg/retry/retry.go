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

package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Logger receives a warning before every retry. *logging.Logger satisfies it.
type Logger interface {
	Warn(ctx context.Context, msg string, args ...any)
}

type Task interface {
	Do(ctx context.Context, attempt uint) error
	Interval(attempt uint) time.Duration
	MaxRetries() uint
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as not worth retrying. RunTask returns the wrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RunTask calls task.Do until it succeeds, fails permanently or MaxRetries attempts were made.
func RunTask(ctx context.Context, logger Logger, name string, task Task) error {
	attempt := uint(0)
	var lastErr error
	for attempt < task.MaxRetries() {
		if attempt > 0 {
			interval := task.Interval(attempt)
			if logger != nil {
				logger.Warn(ctx, "Retrying "+name,
					slog.Uint64("attempt", uint64(attempt)),
					slog.Duration("interval", interval),
					slog.String("error", lastErr.Error()),
				)
			}
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return fmt.Errorf("%s: cancelled during retry wait: %w", name, ctx.Err())
			}
		}

		lastErr = task.Do(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		var permanent *permanentError
		if errors.As(lastErr, &permanent) {
			return permanent.err
		}

		attempt++
	}

	if attempt <= 1 {
		return lastErr
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempt, lastErr)
}

// ConstantTask retries payload with a fixed pause.
type ConstantTask struct {
	maxRetries uint
	interval   time.Duration
	payload    func(ctx context.Context) error
}

// WithConstantRetries builds a task making at most maxRetries attempts (at least one),
// waiting interval (one second by default) between them.
func WithConstantRetries(maxRetries uint, interval time.Duration, payload func(ctx context.Context) error) *ConstantTask {
	task := &ConstantTask{
		maxRetries: maxRetries,
		interval:   interval,
		payload:    payload,
	}
	if task.maxRetries == 0 {
		task.maxRetries = 1
	}
	if task.interval <= 0 {
		task.interval = time.Second
	}
	return task
}

func (t *ConstantTask) Do(ctx context.Context, _ uint) error {
	return t.payload(ctx)
}

func (t *ConstantTask) Interval(_ uint) time.Duration {
	return t.interval
}

func (t *ConstantTask) MaxRetries() uint {
	return t.maxRetries
}
