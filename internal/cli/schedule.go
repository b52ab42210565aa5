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
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/kubectl/pkg/util/templates"

	"github.com/deckhouse/kops-agent/internal/scheduler"
)

var scheduleLong = templates.LongDesc(`
Run a task file on a schedule until interrupted.

Exactly one trigger is required. Jobs started with --in or --at run once and
the command returns after that run.`)

var scheduleExample = templates.Examples(`
	# Every five minutes
	kops schedule tasks/health.yml --every 5m

	# Every weekday at 09:00
	kops schedule tasks/report.yml --cron "0 9 * * 1-5"

	# Once, in ten minutes
	kops schedule tasks/cleanup.yml --in 10m`)

func NewScheduleCommand(rt *Runtime) *cobra.Command {
	var spec scheduler.JobSpec

	cmd := &cobra.Command{
		Use:           "schedule FILE",
		Short:         "Run a task file on a schedule",
		Long:          scheduleLong,
		Example:       scheduleExample,
		Args:          cobra.ExactArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Source = args[0]
			if spec.Name == "" {
				spec.Name = filepath.Base(args[0])
			}
			if err := rt.Init(cmd.Context()); err != nil {
				return err
			}

			s := rt.NewScheduler()
			if err := s.Load([]scheduler.JobSpec{spec}); err != nil {
				return err
			}
			return runScheduler(cmd.Context(), s, spec.Cron == "" && spec.Every == "")
		},
	}

	cmd.Flags().StringVar(&spec.Name, "name", "", "Job name (default is the file name)")
	addTriggerFlags(cmd.Flags(), &spec)
	cmd.MarkFlagsMutuallyExclusive("cron", "every", "in", "at")
	cmd.MarkFlagsOneRequired("cron", "every", "in", "at")
	return cmd
}

func addTriggerFlags(flagSet *pflag.FlagSet, spec *scheduler.JobSpec) {
	flagSet.StringVar(&spec.Cron, "cron", "", "Cron expression, five fields or a descriptor such as @hourly")
	flagSet.StringVar(&spec.Every, "every", "", "Interval between runs, e.g. 30s or 1h")
	flagSet.StringVar(&spec.In, "in", "", "Run once after this delay")
	flagSet.StringVar(&spec.At, "at", "", "Run once at this RFC3339 time")
}

// runScheduler runs s until ctx is done. With oneShot set it also returns once no job is left.
func runScheduler(ctx context.Context, s *scheduler.Scheduler, oneShot bool) error {
	s.Start()
	defer func() {
		<-s.Stop().Done()
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if oneShot && len(s.Jobs()) == 0 {
				return nil
			}
		}
	}
}
