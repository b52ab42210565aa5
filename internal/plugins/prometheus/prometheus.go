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

package prometheus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
	"github.com/deckhouse/kops-agent/pkg/httpclient"
)

const Name = "prometheus_agent"

const (
	ActionQuery   plugin.Action = "query"
	ActionAlerts  plugin.Action = "alerts"
	ActionTargets plugin.Action = "targets"
	ActionRules   plugin.Action = "rules"
)

const (
	statusSuccess = "success"
	defaultStep   = time.Minute
	probeTimeout  = 5 * time.Second
)

var ErrNotConfigured = errors.New("prometheus_url is not configured")

// Plugin queries the Prometheus HTTP API.
type Plugin struct {
	plugin.Base

	url    string
	http   *httpclient.Client
	logger *logging.Logger
	now    func() time.Time

	once   sync.Once
	api    v1.API
	apiErr error
}

type Option func(*Plugin)

func WithURL(url string) Option {
	return func(p *Plugin) {
		p.url = url
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Plugin) {
		p.now = now
	}
}

func New(cfg config.Accessor, logger *logging.Logger, opts ...Option) *Plugin {
	p := &Plugin{
		Base: plugin.NewBase(Name, "Query Prometheus metrics and generate reports", "1.0.0",
			ActionQuery, ActionAlerts, ActionTargets, ActionRules),
		http:   httpclient.FromConfig(cfg, logger),
		logger: logger,
		now:    time.Now,
	}
	if cfg != nil {
		p.url = cfg.GetString(config.KeyPrometheusURL)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Plugin) client() (v1.API, error) {
	p.once.Do(func() {
		if p.url == "" {
			p.apiErr = ErrNotConfigured
			return
		}
		c, err := api.NewClient(api.Config{
			Address: strings.TrimRight(p.url, "/"),
			Client:  p.http.StandardClient(),
		})
		if err != nil {
			p.apiErr = fmt.Errorf("create prometheus client: %w", err)
			return
		}
		p.api = v1.NewAPI(c)
	})
	return p.api, p.apiErr
}

// Available runs the "up" query against the server.
func (p *Plugin) Available(ctx context.Context) bool {
	client, err := p.client()
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if _, _, err := client.Query(ctx, "up", p.now()); err != nil {
		p.logger.Error(ctx, "Prometheus connection test failed", logging.Err(err))
		return false
	}
	return true
}

func (p *Plugin) Info(ctx context.Context) plugin.Info {
	return plugin.Describe(ctx, p)
}

func (p *Plugin) Execute(ctx context.Context, action plugin.Action, opts plugin.Options) (any, error) {
	client, err := p.client()
	if err != nil {
		return nil, err
	}

	var result any
	switch action {
	case ActionQuery:
		result, err = p.query(ctx, client, opts)
	case ActionAlerts:
		result, err = alerts(ctx, client)
	case ActionTargets:
		result, err = targets(ctx, client)
	case ActionRules:
		result, err = rules(ctx, client)
	default:
		return nil, p.UnknownAction(action)
	}
	if err != nil {
		p.logger.Error(ctx, "Prometheus request failed",
			slog.String("action", action.String()),
			slog.String("query", opts.GetString("query", "")),
			logging.Err(err),
		)
		return nil, err
	}
	return result, nil
}

type QueryResult struct {
	Query      string      `json:"query" yaml:"query"`
	ResultType string      `json:"result_type" yaml:"result_type"`
	Result     model.Value `json:"result" yaml:"result"`
	Warnings   []string    `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Status     string      `json:"status" yaml:"status"`
}

// query runs an instant query, or a range query when start and end are given.
func (p *Plugin) query(ctx context.Context, client v1.API, opts plugin.Options) (*QueryResult, error) {
	q, err := opts.RequireString("query")
	if err != nil {
		return nil, err
	}

	start, hasStart, err := timeOption(opts, "start")
	if err != nil {
		return nil, err
	}
	end, hasEnd, err := timeOption(opts, "end")
	if err != nil {
		return nil, err
	}

	var (
		value    model.Value
		warnings v1.Warnings
	)
	switch {
	case hasStart || hasEnd:
		if !hasEnd {
			end = p.now()
		}
		if !hasStart {
			start = end.Add(-time.Hour)
		}
		value, warnings, err = client.QueryRange(ctx, q, v1.Range{
			Start: start,
			End:   end,
			Step:  opts.GetDuration("step", defaultStep),
		})
	default:
		ts, ok, terr := timeOption(opts, "time")
		if terr != nil {
			return nil, terr
		}
		if !ok {
			ts = p.now()
		}
		value, warnings, err = client.Query(ctx, q, ts)
	}
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", q, err)
	}

	return &QueryResult{
		Query:      q,
		ResultType: value.Type().String(),
		Result:     value,
		Warnings:   warnings,
		Status:     statusSuccess,
	}, nil
}

type AlertsResult struct {
	Alerts []v1.Alert `json:"alerts" yaml:"alerts"`
	Status string     `json:"status" yaml:"status"`
}

func alerts(ctx context.Context, client v1.API) (*AlertsResult, error) {
	res, err := client.Alerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("get alerts: %w", err)
	}
	return &AlertsResult{Alerts: res.Alerts, Status: statusSuccess}, nil
}

type TargetsResult struct {
	Targets []v1.ActiveTarget `json:"targets" yaml:"targets"`
	Dropped int               `json:"dropped" yaml:"dropped"`
	Status  string            `json:"status" yaml:"status"`
}

func targets(ctx context.Context, client v1.API) (*TargetsResult, error) {
	res, err := client.Targets(ctx)
	if err != nil {
		return nil, fmt.Errorf("get targets: %w", err)
	}
	return &TargetsResult{Targets: res.Active, Dropped: len(res.Dropped), Status: statusSuccess}, nil
}

type RulesResult struct {
	Rules  []v1.RuleGroup `json:"rules" yaml:"rules"`
	Status string         `json:"status" yaml:"status"`
}

func rules(ctx context.Context, client v1.API) (*RulesResult, error) {
	res, err := client.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("get rules: %w", err)
	}
	return &RulesResult{Rules: res.Groups, Status: statusSuccess}, nil
}

// timeOption reads an RFC3339 timestamp or unix seconds.
func timeOption(opts plugin.Options, key string) (time.Time, bool, error) {
	if !opts.Has(key) {
		return time.Time{}, false, nil
	}
	switch v := opts[key].(type) {
	case time.Time:
		return v, true, nil
	case int:
		return time.Unix(int64(v), 0), true, nil
	case int64:
		return time.Unix(v, 0), true, nil
	case float64:
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*1e9)), true, nil
	}

	s := opts.GetString(key, "")
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)), true, nil
	}
	return time.Time{}, false, fmt.Errorf("option %q: invalid time %q", key, s)
}
