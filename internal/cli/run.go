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
)

var runLong = templates.LongDesc(`
Run a task file through the plugin registry.

YAML and JSON files hold one task or a list of tasks. Every task runs even
when a previous one fails, failures are reported per task.

JavaScript files are evaluated as scripts with the DSL verbs bound as global
functions. The value of the last expression is the result of the run.`)

var runExample = templates.Examples(`
	# Run a task list and print a report
	kops run tasks/health.yml

	# Print the run summary as JSON
	kops run tasks/health.yml -o json

	# Evaluate a script
	kops run tasks/deploy.js`)

func NewRunCommand(rt *Runtime) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:           "run FILE",
		Short:         "Run a task file",
		Long:          runLong,
		Example:       runExample,
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

			summary, err := rt.NewRunner().Run(cmd.Context(), args[0])
			if err != nil {
				return report(printer, err)
			}
			return printer.Print(summary)
		},
	}

	addOutputFlag(cmd.Flags(), &format)
	return cmd
}
