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
	"github.com/spf13/pflag"

	"github.com/deckhouse/kops-agent/internal/output"
)

func addOutputFlag(flagSet *pflag.FlagSet, format *string) {
	flagSet.StringVarP(format, "output", "o", string(output.FormatText), "Output format: text, json or yaml")
}

// newPrinter validates the output flag before any work is done.
func newPrinter(cmd *cobra.Command, format string) (*output.Printer, error) {
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return output.New(cmd.OutOrStdout(), f), nil
}

// report renders err on the command output and marks it as already shown.
func report(printer *output.Printer, err error) error {
	if perr := printer.Error(err); perr != nil {
		return err
	}
	return &ReportedError{Err: err}
}
