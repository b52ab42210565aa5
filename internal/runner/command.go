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
	"io"
	"os"
	"os/exec"
)

// CommandRunner executes a raw shell command outside of the plugin pipeline.
// A non-nil error means the command did not exit with status zero.
type CommandRunner interface {
	Run(ctx context.Context, command string) error
}

// ShellRunner runs commands with "sh -c".
type ShellRunner struct {
	Shell  string
	Stdout io.Writer
	Stderr io.Writer
}

func NewShellRunner() *ShellRunner {
	return &ShellRunner{Shell: "sh", Stdout: os.Stdout, Stderr: os.Stderr}
}

func (s *ShellRunner) Run(ctx context.Context, command string) error {
	shell := s.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	return cmd.Run()
}
