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
	"errors"
)

var (
	ErrSourceNotFound    = errors.New("file not found")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrUnknownTaskType   = errors.New("unknown task type")
	ErrUnknownCheckType  = errors.New("unknown check type")
	ErrCommandsDisabled  = errors.New("raw commands are disabled")
)

// TaskError is the failure recorded for a single task of a batch.
type TaskError struct {
	Task Task
	Err  error
}

func (e *TaskError) Error() string {
	return e.Err.Error()
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// ScriptError is a fault raised while evaluating a script source.
type ScriptError struct {
	Message string
	Err     error
}

func (e *ScriptError) Error() string {
	return e.Message
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}
