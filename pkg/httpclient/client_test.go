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

package httpclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deckhouse/kops-agent/internal/logging"
)

func newTestClient(retries int) *Client {
	return New(Options{
		Timeout: 5 * time.Second,
		Retries: retries,
		WaitMin: time.Millisecond,
		WaitMax: 5 * time.Millisecond,
		Logger:  LeveledLogger{Logger: logging.NewNop()},
	})
}

func TestJSONRoundTripWithAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "token", pass)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "yes", r.Header.Get("X-Test"))

		var in map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "ping", in["message"])

		_, _ = io.WriteString(w, `{"ok": true}`)
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	err := newTestClient(0).JSON(context.Background(), Request{
		Method:   http.MethodPost,
		URL:      srv.URL,
		Header:   http.Header{"X-Test": []string{"yes"}},
		Body:     map[string]any{"message": "ping"},
		Username: "admin",
		Password: "token",
	}, &out)
	require.NoError(t, err)
	assert.True(t, out.OK)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "done")
	}))
	defer srv.Close()

	resp, err := newTestClient(3).Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "done", string(resp.Body))
	assert.EqualValues(t, 3, calls.Load())
}

func TestStatusError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "no such job", http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := newTestClient(3).Do(context.Background(), Request{URL: srv.URL + "/job/x"})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "no such job", statusErr.Body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.EqualValues(t, 1, calls.Load(), "4xx responses are not retried")
}

func TestStringBodyIsSentVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		assert.Equal(t, "raw payload", string(data))
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newTestClient(0).JSON(context.Background(), Request{Method: http.MethodPut, URL: srv.URL, Body: "raw payload"}, &struct{}{}))
}
