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
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/deckhouse/kops-agent/internal/agent"
	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
	"github.com/deckhouse/kops-agent/internal/plugins"
	"github.com/deckhouse/kops-agent/internal/runner"
	"github.com/deckhouse/kops-agent/internal/scheduler"
)

// Runtime holds the state shared by every subcommand. Configuration, logger and
// registry are built on first use so that --help never touches the environment.
type Runtime struct {
	ConfigPath string
	Kubeconfig string
	Context    string
	LogLevel   string

	flags      *pflag.FlagSet
	fs         afero.Fs
	registerer prometheus.Registerer
	register   func(reg *agent.Registry, cfg config.Accessor, logger *logging.Logger)
	logger     *logging.Logger

	once     sync.Once
	err      error
	cfg      *viper.Viper
	registry *agent.Registry
}

type RuntimeOption func(*Runtime)

// WithFs resolves task sources on fs.
func WithFs(fs afero.Fs) RuntimeOption {
	return func(rt *Runtime) {
		rt.fs = fs
	}
}

// WithRegisterer registers the agent metrics on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) RuntimeOption {
	return func(rt *Runtime) {
		rt.registerer = reg
	}
}

// WithPlugins registers ps instead of the built-in plugins.
func WithPlugins(ps ...plugin.Plugin) RuntimeOption {
	return func(rt *Runtime) {
		rt.register = func(reg *agent.Registry, _ config.Accessor, _ *logging.Logger) {
			for _, p := range ps {
				reg.Register(p)
			}
		}
	}
}

func WithLogger(logger *logging.Logger) RuntimeOption {
	return func(rt *Runtime) {
		rt.logger = logger
	}
}

func NewRuntime(opts ...RuntimeOption) *Runtime {
	rt := &Runtime{
		fs:         afero.NewOsFs(),
		registerer: prometheus.DefaultRegisterer,
		register:   plugins.RegisterBuiltins,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// AddFlags registers the global flags on flagSet and remembers it for config binding.
func (rt *Runtime) AddFlags(flagSet *pflag.FlagSet) {
	defaultKubeconfigPath := os.ExpandEnv("$HOME/.kube/config")
	if p := os.Getenv("KUBECONFIG"); p != "" {
		defaultKubeconfigPath = p
	}

	flagSet.StringVar(&rt.ConfigPath, "config", "",
		fmt.Sprintf("Path to the configuration file. (default is $%s when it is set, %s otherwise)", config.EnvConfigFile, config.DefaultConfigFile))
	flagSet.StringVarP(&rt.Kubeconfig, "kubeconfig", "k", defaultKubeconfigPath,
		"KubeConfig of the cluster. (default is $KUBECONFIG when it is set, $HOME/.kube/config otherwise)")
	flagSet.StringVar(&rt.Context, "context", "", "The name of the kubeconfig context to use")
	flagSet.StringVar(&rt.LogLevel, "log-level", "", "Minimum log level: debug, info, warn, error, fatal")

	rt.flags = flagSet
}

// Init loads the configuration and builds the logger and the plugin registry.
func (rt *Runtime) Init(ctx context.Context) error {
	rt.once.Do(func() {
		rt.err = rt.init(ctx)
	})
	return rt.err
}

func (rt *Runtime) init(ctx context.Context) error {
	cfg, loadErr := config.Load(rt.ConfigPath)
	if cfg == nil {
		return loadErr
	}
	if err := rt.bindFlags(cfg); err != nil {
		return err
	}

	if rt.logger == nil {
		rt.logger = logging.NewDefault(cfg.GetString(config.KeyServiceName), cfg.GetString(config.KeyLogLevel))
	}
	if loadErr != nil {
		rt.logger.Warn(ctx, "Failed to read config file, using defaults and environment", logging.Err(loadErr))
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	metrics, err := agent.NewMetrics(rt.registerer)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	registry := agent.NewRegistry(rt.logger.With("component", "agent"), agent.WithMetrics(metrics))
	rt.register(registry, cfg, rt.logger)

	rt.cfg = cfg
	rt.registry = registry
	return nil
}

func (rt *Runtime) bindFlags(cfg *viper.Viper) error {
	if rt.flags == nil {
		return nil
	}
	bindings := map[string]string{
		config.KeyK8sConfigPath: "kubeconfig",
		config.KeyK8sContext:    "context",
	}
	for key, name := range bindings {
		if err := cfg.BindPFlag(key, rt.flags.Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	if rt.LogLevel != "" {
		cfg.Set(config.KeyLogLevel, rt.LogLevel)
	}
	return nil
}

// Config is valid after a successful Init.
func (rt *Runtime) Config() *viper.Viper {
	return rt.cfg
}

func (rt *Runtime) Logger() *logging.Logger {
	return rt.logger
}

func (rt *Runtime) Registry() *agent.Registry {
	return rt.registry
}

// NewRunner returns a fresh task runner bound to the registry.
func (rt *Runtime) NewRunner() *runner.Runner {
	return runner.New(rt.registry, rt.logger.With("component", "runner"),
		runner.WithFs(rt.fs),
		runner.WithConfig(rt.cfg),
	)
}

// NewScheduler returns a scheduler creating one runner per tick.
func (rt *Runtime) NewScheduler() *scheduler.Scheduler {
	return scheduler.New(func() scheduler.Runner {
		return rt.NewRunner()
	}, rt.logger.With("component", "scheduler"))
}
