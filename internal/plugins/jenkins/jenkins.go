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

package jenkins

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
	"github.com/deckhouse/kops-agent/pkg/httpclient"
)

const Name = "jenkins_agent"

const (
	ActionJobs   plugin.Action = "jobs"
	ActionBuild  plugin.Action = "build"
	ActionStatus plugin.Action = "status"
	ActionLogs   plugin.Action = "logs"
)

const (
	lastBuild = "lastBuild"
	jobsTree  = "jobs[name,url,color,builds[number,result,timestamp]]"
)

var ErrNotConfigured = errors.New("jenkins_url is not configured")

// Plugin talks to the Jenkins remote access API.
type Plugin struct {
	plugin.Base

	url      string
	username string
	token    string
	http     *httpclient.Client
	logger   *logging.Logger
}

type Option func(*Plugin)

func WithEndpoint(url, username, token string) Option {
	return func(p *Plugin) {
		p.url, p.username, p.token = url, username, token
	}
}

func New(cfg config.Accessor, logger *logging.Logger, opts ...Option) *Plugin {
	p := &Plugin{
		Base: plugin.NewBase(Name, "Query Jenkins build status and trigger deployments", "1.0.0",
			ActionJobs, ActionBuild, ActionStatus, ActionLogs),
		http:   httpclient.FromConfig(cfg, logger),
		logger: logger,
	}
	if cfg != nil {
		p.url = cfg.GetString(config.KeyJenkinsURL)
		p.username = cfg.GetString(config.KeyJenkinsUsername)
		p.token = cfg.GetString(config.KeyJenkinsToken)
	}
	for _, opt := range opts {
		opt(p)
	}
	p.url = strings.TrimRight(p.url, "/")
	return p
}

func (p *Plugin) Available(ctx context.Context) bool {
	if p.url == "" {
		return false
	}
	if _, err := p.do(ctx, http.MethodGet, "/api/json", nil, nil); err != nil {
		p.logger.Error(ctx, "Jenkins connection test failed", logging.Err(err))
		return false
	}
	return true
}

func (p *Plugin) Info(ctx context.Context) plugin.Info {
	return plugin.Describe(ctx, p)
}

func (p *Plugin) Execute(ctx context.Context, action plugin.Action, opts plugin.Options) (any, error) {
	if p.url == "" {
		return nil, ErrNotConfigured
	}

	var (
		result any
		err    error
	)
	switch action {
	case ActionJobs:
		result, err = p.jobs(ctx)
	case ActionBuild:
		result, err = p.build(ctx, opts)
	case ActionStatus:
		result, err = p.status(ctx, opts)
	case ActionLogs:
		result, err = p.logs(ctx, opts)
	default:
		return nil, p.UnknownAction(action)
	}
	if err != nil {
		p.logger.Error(ctx, "Jenkins request failed",
			slog.String("action", action.String()),
			slog.String("job", opts.GetString("job_name", "")),
			logging.Err(err),
		)
		return nil, err
	}
	return result, nil
}

type LastBuild struct {
	Number    int    `json:"number" yaml:"number"`
	Result    string `json:"result" yaml:"result"`
	Timestamp int64  `json:"timestamp" yaml:"timestamp"`
}

type Job struct {
	Name      string     `json:"name" yaml:"name"`
	URL       string     `json:"url" yaml:"url"`
	Status    string     `json:"status" yaml:"status"`
	LastBuild *LastBuild `json:"last_build" yaml:"last_build"`
}

type JobList struct {
	Jobs []Job `json:"jobs" yaml:"jobs"`
}

type jobPayload struct {
	Name   string      `json:"name"`
	URL    string      `json:"url"`
	Color  string      `json:"color"`
	Builds []LastBuild `json:"builds"`
}

func (p *Plugin) jobs(ctx context.Context) (*JobList, error) {
	var payload struct {
		Jobs []jobPayload `json:"jobs"`
	}
	query := url.Values{"tree": {jobsTree}}
	if err := p.json(ctx, "/api/json?"+query.Encode(), &payload); err != nil {
		return nil, err
	}

	jobs := lo.Map(payload.Jobs, func(j jobPayload, _ int) Job {
		job := Job{Name: j.Name, URL: j.URL, Status: j.Color}
		if len(j.Builds) > 0 {
			job.LastBuild = &j.Builds[0]
		}
		return job
	})
	return &JobList{Jobs: jobs}, nil
}

type BuildResult struct {
	Success bool   `json:"success" yaml:"success"`
	JobName string `json:"job_name" yaml:"job_name"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	Queue   string `json:"queue,omitempty" yaml:"queue,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

// build triggers a job. A response other than 201 Created is reported as an unsuccessful build, not an error.
func (p *Plugin) build(ctx context.Context, opts plugin.Options) (*BuildResult, error) {
	job, err := opts.RequireString("job_name")
	if err != nil {
		return nil, err
	}

	path := jobPath(job) + "/build"
	var body []byte
	header := http.Header{}
	if params := opts.GetMap("parameters"); len(params) > 0 {
		path = jobPath(job) + "/buildWithParameters"
		form := url.Values{}
		for k, v := range params {
			form.Set(k, fmt.Sprint(v))
		}
		body = []byte(form.Encode())
		header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.do(ctx, http.MethodPost, path, header, body)
	var statusErr *httpclient.StatusError
	switch {
	case errors.As(err, &statusErr):
		return &BuildResult{
			JobName: job,
			Error:   fmt.Sprintf("HTTP %d: %s", statusErr.StatusCode, statusErr.Body),
		}, nil
	case err != nil:
		return nil, err
	case resp.StatusCode != http.StatusCreated:
		return &BuildResult{
			JobName: job,
			Error:   fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(resp.Body))),
		}, nil
	}

	return &BuildResult{
		Success: true,
		JobName: job,
		Message: "Build triggered successfully",
		Queue:   resp.Header.Get("Location"),
	}, nil
}

type BuildStatus struct {
	JobName     string `json:"job_name" yaml:"job_name"`
	BuildNumber int    `json:"build_number" yaml:"build_number"`
	Result      string `json:"result" yaml:"result"`
	Building    bool   `json:"building" yaml:"building"`
	Timestamp   int64  `json:"timestamp" yaml:"timestamp"`
	Duration    int64  `json:"duration" yaml:"duration"`
	URL         string `json:"url" yaml:"url"`
}

func (p *Plugin) status(ctx context.Context, opts plugin.Options) (*BuildStatus, error) {
	job, err := opts.RequireString("job_name")
	if err != nil {
		return nil, err
	}

	var payload struct {
		Number    int    `json:"number"`
		Result    string `json:"result"`
		Building  bool   `json:"building"`
		Timestamp int64  `json:"timestamp"`
		Duration  int64  `json:"duration"`
		URL       string `json:"url"`
	}
	if err := p.json(ctx, buildPath(job, opts)+"/api/json", &payload); err != nil {
		return nil, err
	}
	return &BuildStatus{
		JobName:     job,
		BuildNumber: payload.Number,
		Result:      payload.Result,
		Building:    payload.Building,
		Timestamp:   payload.Timestamp,
		Duration:    payload.Duration,
		URL:         payload.URL,
	}, nil
}

type BuildLogs struct {
	JobName     string `json:"job_name" yaml:"job_name"`
	BuildNumber string `json:"build_number" yaml:"build_number"`
	Logs        string `json:"logs" yaml:"logs"`
}

func (p *Plugin) logs(ctx context.Context, opts plugin.Options) (*BuildLogs, error) {
	job, err := opts.RequireString("job_name")
	if err != nil {
		return nil, err
	}

	resp, err := p.do(ctx, http.MethodGet, buildPath(job, opts)+"/consoleText", nil, nil)
	if err != nil {
		return nil, err
	}
	return &BuildLogs{
		JobName:     job,
		BuildNumber: opts.GetString("build_number", lastBuild),
		Logs:        string(resp.Body),
	}, nil
}

func (p *Plugin) json(ctx context.Context, path string, out any) error {
	return p.http.JSON(ctx, httpclient.Request{
		URL:      p.url + path,
		Username: p.username,
		Password: p.token,
	}, out)
}

func (p *Plugin) do(ctx context.Context, method, path string, header http.Header, body []byte) (*httpclient.Response, error) {
	req := httpclient.Request{
		Method:   method,
		URL:      p.url + path,
		Header:   header,
		Username: p.username,
		Password: p.token,
	}
	if body != nil {
		req.Body = body
	}
	return p.http.Do(ctx, req)
}

// jobPath maps "folder/name" to "/job/folder/job/name".
func jobPath(job string) string {
	parts := lo.Compact(strings.Split(job, "/"))
	return "/job/" + strings.Join(lo.Map(parts, func(s string, _ int) string {
		return url.PathEscape(s)
	}), "/job/")
}

func buildPath(job string, opts plugin.Options) string {
	return jobPath(job) + "/" + url.PathEscape(opts.GetString("build_number", lastBuild))
}
