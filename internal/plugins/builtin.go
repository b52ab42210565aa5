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

package plugins

import (
	"github.com/deckhouse/kops-agent/internal/agent"
	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
	"github.com/deckhouse/kops-agent/internal/plugins/gpt"
	"github.com/deckhouse/kops-agent/internal/plugins/jenkins"
	"github.com/deckhouse/kops-agent/internal/plugins/k8s"
	"github.com/deckhouse/kops-agent/internal/plugins/logs"
	"github.com/deckhouse/kops-agent/internal/plugins/notifier"
	"github.com/deckhouse/kops-agent/internal/plugins/prometheus"
	"github.com/deckhouse/kops-agent/internal/plugins/sshremote"
	"github.com/deckhouse/kops-agent/internal/plugins/systemcheck"
)

// Builtins constructs every built-in plugin. Each one gets a child logger carrying its name.
func Builtins(cfg config.Accessor, logger *logging.Logger) []plugin.Plugin {
	named := func(name string) *logging.Logger {
		return logger.With("plugin", name)
	}
	return []plugin.Plugin{
		systemcheck.New(cfg, named(systemcheck.Name)),
		sshremote.New(cfg, named(sshremote.Name)),
		k8s.New(cfg, named(k8s.Name)),
		prometheus.New(cfg, named(prometheus.Name)),
		jenkins.New(cfg, named(jenkins.Name)),
		logs.New(cfg, named(logs.Name)),
		notifier.New(cfg, named(notifier.Name)),
		gpt.New(cfg, named(gpt.Name)),
	}
}

// RegisterBuiltins registers the built-in plugins with reg.
func RegisterBuiltins(reg *agent.Registry, cfg config.Accessor, logger *logging.Logger) {
	for _, p := range Builtins(cfg, logger) {
		reg.Register(p)
	}
}
