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
	"sort"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/kubectl/pkg/util/templates"

	"github.com/deckhouse/kops-agent/internal/output"
)

// CommandInfo describes one command of the tree. Hidden and deprecated commands are skipped.
type CommandInfo struct {
	Name        string        `json:"name"`
	Use         string        `json:"use"`
	Description string        `json:"description"`
	Version     string        `json:"version,omitempty"`
	Aliases     []string      `json:"aliases,omitempty"`
	Flags       []FlagInfo    `json:"flags"`
	Subcommands []CommandInfo `json:"subcommands,omitempty"`
}

type FlagInfo struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description"`
	Global      bool   `json:"global"`
}

var helpJSONLong = templates.LongDesc(`
		Print the kops command tree with every flag.

		Completion and documentation tooling reads this instead of parsing --help.`)

// NewHelpJSONCommand dumps the command tree of root. JSON is the default; -o yaml is accepted too.
func NewHelpJSONCommand(root *cobra.Command) *cobra.Command {
	format := string(output.FormatJSON)
	cmd := &cobra.Command{
		Use:    "help-json",
		Short:  "Print all kops commands and flags as JSON.",
		Long:   helpJSONLong,
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := output.ParseFormat(format)
			if err != nil {
				return err
			}
			root.InitDefaultHelpFlag()
			root.InitDefaultVersionFlag()
			return output.New(cmd.OutOrStdout(), f).Print(describeCommand(root))
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", format, "Output format: json or yaml")
	return cmd
}

func describeCommand(cmd *cobra.Command) CommandInfo {
	flags := append(describeFlags(cmd.InheritedFlags(), true), describeFlags(cmd.LocalFlags(), false)...)
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })

	return CommandInfo{
		Name:        cmd.Name(),
		Use:         cmd.Use,
		Description: cmd.Short,
		Version:     cmd.Version,
		Aliases:     cmd.Aliases,
		Flags:       flags,
		Subcommands: lo.FilterMap(cmd.Commands(), func(sub *cobra.Command, _ int) (CommandInfo, bool) {
			if !sub.IsAvailableCommand() {
				return CommandInfo{}, false
			}
			return describeCommand(sub), true
		}),
	}
}

func describeFlags(flagSet *pflag.FlagSet, global bool) []FlagInfo {
	flags := []FlagInfo{}
	flagSet.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		flags = append(flags, FlagInfo{
			Name:        f.Name,
			Shorthand:   f.Shorthand,
			Type:        f.Value.Type(),
			Default:     f.DefValue,
			Description: f.Usage,
			Global:      global,
		})
	})
	return flags
}
