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

package agent

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess     = "success"
	statusFailed      = "failed"
	statusNotFound    = "not_found"
	statusUnavailable = "unavailable"
)

// Metrics exposes Prometheus collectors describing plugin executions.
type Metrics struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	plugins    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// Collectors already registered by a previous registry are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kops",
				Subsystem: "agent",
				Name:      "plugin_executions_total",
				Help:      "Plugin executions partitioned by outcome.",
			},
			[]string{"plugin", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kops",
				Subsystem: "agent",
				Name:      "plugin_execution_duration_seconds",
				Help:      "Time spent inside Plugin.Execute.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"plugin"},
		),
		plugins: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "kops",
				Subsystem: "agent",
				Name:      "registered_plugins",
				Help:      "Number of plugins in the registry.",
			},
		),
	}
	if reg == nil {
		return m, nil
	}

	if err := register(reg, m.executions, func(c prometheus.Collector) { m.executions = c.(*prometheus.CounterVec) }); err != nil {
		return nil, err
	}
	if err := register(reg, m.duration, func(c prometheus.Collector) { m.duration = c.(*prometheus.HistogramVec) }); err != nil {
		return nil, err
	}
	if err := register(reg, m.plugins, func(c prometheus.Collector) { m.plugins = c.(prometheus.Gauge) }); err != nil {
		return nil, err
	}
	return m, nil
}

func register(reg prometheus.Registerer, c prometheus.Collector, reuse func(prometheus.Collector)) error {
	err := reg.Register(c)
	if err == nil {
		return nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		reuse(already.ExistingCollector)
		return nil
	}
	return err
}

func (m *Metrics) observe(plugin, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(plugin, status).Inc()
	if elapsed > 0 {
		m.duration.WithLabelValues(plugin).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) setPlugins(n int) {
	if m == nil {
		return
	}
	m.plugins.Set(float64(n))
}
