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

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/kubectl/pkg/util/templates"

	"github.com/deckhouse/kops-agent/internal/agent"
)

var pluginsLong = templates.LongDesc(`
Inspect the plugins known to the agent.

Availability is probed when the command runs, so an unreachable cluster or
an unset API key shows up as an unavailable plugin.`)

func NewPluginsCommand(rt *Runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "plugins",
		Short:         "Inspect registered plugins",
		Long:          pluginsLong,
		SilenceErrors: true,
		SilenceUsage:  true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}

	cmd.AddCommand(newPluginsListCommand(rt), newPluginsInfoCommand(rt))
	return cmd
}

func newPluginsListCommand(rt *Runtime) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:           "list",
		Aliases:       []string{"ls"},
		Short:         "List plugins with their actions and availability",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printer, err := newPrinter(cmd, format)
			if err != nil {
				return err
			}
			if err := rt.Init(cmd.Context()); err != nil {
				return err
			}
			return printer.Print(rt.Registry().List(cmd.Context()))
		},
	}

	addOutputFlag(cmd.Flags(), &format)
	return cmd
}

func newPluginsInfoCommand(rt *Runtime) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:           "info NAME",
		Short:         "Describe a single plugin",
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			printer, err := newPrinter(cmd, format)
			if err != nil {
				return err
			}
			if err := rt.Init(cmd.Context()); err != nil {
				return err
			}
			info, ok := rt.Registry().Info(cmd.Context(), args[0])
			if !ok {
				return report(printer, fmt.Errorf("plugin %q: %w", args[0], agent.ErrPluginNotFound))
			}
			return printer.Print(info)
		},
	}

	addOutputFlag(cmd.Flags(), &format)
	return cmd
}
