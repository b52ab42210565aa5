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
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeServer struct {
	mu    sync.Mutex
	forms map[string]map[string]string
}

func (f *fakeServer) record(path string, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()
	form := map[string]string{}
	for k := range r.Form {
		form[k] = r.Form.Get(k)
	}
	f.forms[path] = form
}

func (f *fakeServer) form(path string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[path]
}

func newFakeServer(t *testing.T) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{forms: map[string]map[string]string{}}
	mux := http.NewServeMux()
	reply := func(path, body string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			f.record(path, r)
			if r.Form.Get("query") == "bad(" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"status":"error","errorType":"bad_data","error":"parse error at char 5"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		})
	}
	reply("/api/v1/query", `{"status":"success","data":{"resultType":"vector","result":[
		{"metric":{"__name__":"up","job":"node"},"value":[1748779200,"1"]}]}}`)
	reply("/api/v1/query_range", `{"status":"success","data":{"resultType":"matrix","result":[
		{"metric":{"job":"node"},"values":[[1748775600,"0.5"],[1748775630,"0.7"]]}]}}`)
	reply("/api/v1/alerts", `{"status":"success","data":{"alerts":[
		{"labels":{"alertname":"HighCPU"},"annotations":{"summary":"cpu"},"state":"firing","activeAt":"2025-06-01T11:00:00Z","value":"1e+00"}]}}`)
	reply("/api/v1/targets", `{"status":"success","data":{"activeTargets":[
		{"discoveredLabels":{},"labels":{"job":"node"},"scrapePool":"node","scrapeUrl":"http://node:9100/metrics",
		 "globalUrl":"http://node:9100/metrics","lastError":"","lastScrape":"2025-06-01T11:59:50Z","lastScrapeDuration":0.01,"health":"up"}],
		"droppedTargets":[{"discoveredLabels":{"job":"x"}}]}}`)
	reply("/api/v1/rules", `{"status":"success","data":{"groups":[
		{"name":"node","file":"/rules.yml","interval":60,"rules":[
			{"type":"alerting","name":"HighCPU","query":"cpu > 0.9","duration":300,"labels":{},"annotations":{},
			 "alerts":[],"health":"ok","lastError":"","evaluationTime":0.001,"lastEvaluation":"2025-06-01T11:59:00Z","state":"inactive"}]}]}}`)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestPlugin(url string) *Plugin {
	cfg := config.New()
	cfg.Set(config.KeyHTTPRetries, 0)
	return New(cfg, logging.NewNop(), WithURL(url), WithClock(func() time.Time { return now }))
}

func TestInstantQuery(t *testing.T) {
	f, srv := newFakeServer(t)
	p := newTestPlugin(srv.URL)

	result, err := p.Execute(context.Background(), ActionQuery, plugin.Options{"query": "up"})
	require.NoError(t, err)

	res := result.(*QueryResult)
	assert.Equal(t, "up", res.Query)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "vector", res.ResultType)

	vector := res.Result.(model.Vector)
	require.Len(t, vector, 1)
	assert.Equal(t, model.LabelValue("node"), vector[0].Metric["job"])
	assert.Equal(t, model.SampleValue(1), vector[0].Value)

	assert.Equal(t, "up", f.form("/api/v1/query")["query"])
	assert.Equal(t, strconv.FormatInt(now.Unix(), 10), f.form("/api/v1/query")["time"])
}

func TestRangeQuery(t *testing.T) {
	f, srv := newFakeServer(t)
	p := newTestPlugin(srv.URL)

	result, err := p.Execute(context.Background(), ActionQuery, plugin.Options{
		"query": "rate(cpu[5m])",
		"start": "2025-06-01T11:00:00Z",
		"end":   now.Unix(),
		"step":  "30s",
	})
	require.NoError(t, err)

	res := result.(*QueryResult)
	assert.Equal(t, "matrix", res.ResultType)
	matrix := res.Result.(model.Matrix)
	require.Len(t, matrix, 1)
	assert.Len(t, matrix[0].Values, 2)

	form := f.form("/api/v1/query_range")
	assert.Equal(t, "30", form["step"])
	assert.Equal(t, strconv.FormatInt(now.Add(-time.Hour).Unix(), 10), form["start"])
	assert.Equal(t, strconv.FormatInt(now.Unix(), 10), form["end"])
}

func TestQueryValidation(t *testing.T) {
	_, srv := newFakeServer(t)
	p := newTestPlugin(srv.URL)

	_, err := p.Execute(context.Background(), ActionQuery, plugin.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"query"`)

	_, err = p.Execute(context.Background(), ActionQuery, plugin.Options{"query": "up", "start": "yesterday"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid time")
}

func TestQueryServerError(t *testing.T) {
	_, srv := newFakeServer(t)
	p := newTestPlugin(srv.URL)

	_, err := p.Execute(context.Background(), ActionQuery, plugin.Options{"query": "bad("})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse error")
}

func TestAlertsTargetsRules(t *testing.T) {
	_, srv := newFakeServer(t)
	p := newTestPlugin(srv.URL)
	ctx := context.Background()

	result, err := p.Execute(ctx, ActionAlerts, plugin.Options{})
	require.NoError(t, err)
	alertsRes := result.(*AlertsResult)
	require.Len(t, alertsRes.Alerts, 1)
	assert.Equal(t, model.LabelValue("HighCPU"), alertsRes.Alerts[0].Labels["alertname"])
	assert.Equal(t, v1.AlertStateFiring, alertsRes.Alerts[0].State)

	result, err = p.Execute(ctx, ActionTargets, plugin.Options{})
	require.NoError(t, err)
	targetsRes := result.(*TargetsResult)
	require.Len(t, targetsRes.Targets, 1)
	assert.Equal(t, v1.HealthGood, targetsRes.Targets[0].Health)
	assert.Equal(t, 1, targetsRes.Dropped)

	result, err = p.Execute(ctx, ActionRules, plugin.Options{})
	require.NoError(t, err)
	rulesRes := result.(*RulesResult)
	require.Len(t, rulesRes.Rules, 1)
	assert.Equal(t, "node", rulesRes.Rules[0].Name)
	require.Len(t, rulesRes.Rules[0].Rules, 1)
	rule, ok := rulesRes.Rules[0].Rules[0].(v1.AlertingRule)
	require.True(t, ok)
	assert.Equal(t, "HighCPU", rule.Name)
}

func TestAvailability(t *testing.T) {
	_, srv := newFakeServer(t)

	assert.True(t, newTestPlugin(srv.URL).Available(context.Background()))
	assert.False(t, newTestPlugin("").Available(context.Background()))

	_, err := newTestPlugin("").Execute(context.Background(), ActionAlerts, plugin.Options{})
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestUnknownAction(t *testing.T) {
	_, srv := newFakeServer(t)
	_, err := newTestPlugin(srv.URL).Execute(context.Background(), "graph", plugin.Options{})
	require.ErrorIs(t, err, plugin.ErrUnknownAction)
}
