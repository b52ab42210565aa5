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
	"github.com/spf13/cobra"
	"k8s.io/kubectl/pkg/util/templates"

	"github.com/deckhouse/kops-agent/internal/plugin"
)

var execLong = templates.LongDesc(`
Execute a single plugin action.

Options are given as key=value pairs. Values are read as YAML scalars, a dotted
key builds a nested mapping.`)

var execExample = templates.Examples(`
	# Check the memory usage of this host
	kops exec system_check memory

	# Run a command over SSH
	kops exec ssh_remote exec host=web-1 command="uptime" port=2222

	# List pods of every namespace as YAML
	kops exec k8s_agent pods namespace=all -o yaml`)

func NewExecCommand(rt *Runtime) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:           "exec PLUGIN ACTION [key=value ...]",
		Short:         "Execute a plugin action",
		Long:          execLong,
		Example:       execExample,
		Args:          cobra.MinimumNArgs(2),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			printer, err := newPrinter(cmd, format)
			if err != nil {
				return err
			}
			opts, err := ParseOptions(args[2:])
			if err != nil {
				return err
			}
			if err := rt.Init(cmd.Context()); err != nil {
				return err
			}

			result, err := rt.Registry().Execute(cmd.Context(), args[0], plugin.Action(args[1]), opts)
			if err != nil {
				return report(printer, err)
			}
			return printer.Print(result)
		},
	}

	addOutputFlag(cmd.Flags(), &format)
	return cmd
}
