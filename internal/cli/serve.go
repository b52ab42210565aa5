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
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"k8s.io/kubectl/pkg/util/templates"

	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/scheduler"
	"github.com/deckhouse/kops-agent/internal/server"
)

var serveLong = templates.LongDesc(`
Run the agent as a daemon.

The HTTP listener serves /healthz, /plugins, /jobs and the Prometheus
/metrics endpoint. Jobs from the schedules section of the configuration file
are started together with the one given by --schedule.`)

var serveExample = templates.Examples(`
	# Serve on the default address
	kops serve

	# Serve and check the host every minute
	kops serve --listen :9100 --schedule tasks/health.yml --every 1m`)

func NewServeCommand(rt *Runtime) *cobra.Command {
	var (
		listen string
		spec   scheduler.JobSpec
	)

	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Run the HTTP surface and the scheduler",
		Long:          serveLong,
		Example:       serveExample,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := rt.Init(ctx); err != nil {
				return err
			}
			cfg := rt.Config()
			if listen == "" {
				listen = cfg.GetString(config.KeyListen)
			}

			var specs []scheduler.JobSpec
			if err := cfg.UnmarshalKey(config.KeySchedules, &specs); err != nil {
				return fmt.Errorf("read %s: %w", config.KeySchedules, err)
			}
			if spec.Source == "" && (spec.Cron != "" || spec.Every != "" || spec.In != "" || spec.At != "") {
				return errors.New("a trigger flag needs --schedule")
			}
			if spec.Source != "" {
				if spec.Name == "" {
					spec.Name = filepath.Base(spec.Source)
				}
				specs = append(specs, spec)
			}

			s := rt.NewScheduler()
			if err := s.Load(specs); err != nil {
				return err
			}
			s.Start()
			defer func() {
				<-s.Stop().Done()
			}()

			rt.Logger().Info(ctx, "Serving",
				slog.String("listen", listen),
				slog.Int("jobs", len(s.Jobs())),
			)
			srv := server.New(rt.Registry(), rt.Logger().With("component", "server"), server.WithScheduler(s))
			return srv.Run(ctx, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", fmt.Sprintf("Listen address (default is %s from the config)", config.KeyListen))
	cmd.Flags().StringVar(&spec.Source, "schedule", "", "Task file to run on the trigger given by --cron, --every, --in or --at")
	cmd.Flags().StringVar(&spec.Name, "name", "", "Name of the --schedule job (default is the file name)")
	addTriggerFlags(cmd.Flags(), &spec)
	cmd.MarkFlagsMutuallyExclusive("cron", "every", "in", "at")
	return cmd
}
