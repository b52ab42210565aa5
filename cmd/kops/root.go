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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/logs"
	"k8s.io/kubectl/pkg/util/templates"

	"github.com/deckhouse/kops-agent/internal/cli"
	"github.com/deckhouse/kops-agent/internal/version"
)

var rootLong = templates.LongDesc(`
kops runs operations tasks through a registry of plugins.

Plugins cover host checks, remote commands over SSH, Kubernetes, Prometheus,
Jenkins, log files, notifications and AI assisted analysis. Tasks are
declared in YAML or JSON files or written as JavaScript scripts.

Configuration is read from $KOPS_CONFIG (config/kops.yml by default) and
from the environment.`)

type RootCommand struct {
	cmd     *cobra.Command
	runtime *cli.Runtime
}

func NewRootCommand() *RootCommand {
	rootCmd := &RootCommand{
		runtime: cli.NewRuntime(),
	}

	rootCmd.cmd = &cobra.Command{
		Use:           "kops",
		Short:         "kops runs operations tasks through a registry of plugins",
		Long:          rootLong,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	rootCmd.runtime.AddFlags(rootCmd.cmd.PersistentFlags())
	rootCmd.registerCommands()
	rootCmd.cmd.SetGlobalNormalizationFunc(cliflag.WordSepNormalizeFunc)

	return rootCmd
}

func (r *RootCommand) registerCommands() {
	r.cmd.AddCommand(cli.NewRunCommand(r.runtime))
	r.cmd.AddCommand(cli.NewExecCommand(r.runtime))
	r.cmd.AddCommand(cli.NewPluginsCommand(r.runtime))
	r.cmd.AddCommand(cli.NewScheduleCommand(r.runtime))
	r.cmd.AddCommand(cli.NewServeCommand(r.runtime))
	r.cmd.AddCommand(NewHelpJSONCommand(r.cmd))
}

func (r *RootCommand) Execute(ctx context.Context) error {
	defer logs.FlushLogs()
	return r.cmd.ExecuteContext(ctx)
}

func execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().Execute(ctx)
	stop()
	if err == nil {
		return
	}

	var reported *cli.ReportedError
	if !errors.As(err, &reported) {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
	}
	os.Exit(1)
}
