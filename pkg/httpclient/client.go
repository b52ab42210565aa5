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
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const maxErrorBody = 512

// Options configure a Client. Zero values select the defaults.
type Options struct {
	Timeout  time.Duration
	Retries  int
	WaitMin  time.Duration
	WaitMax  time.Duration
	Insecure bool
	Logger   retryablehttp.LeveledLogger
}

// Client is a retrying HTTP client for the JSON APIs used by plugins.
type Client struct {
	http *retryablehttp.Client
}

func New(opts Options) *Client {
	transport := cleanhttp.DefaultPooledTransport()
	if opts.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	c := retryablehttp.NewClient()
	c.HTTPClient = &http.Client{Transport: transport, Timeout: opts.Timeout}
	if c.HTTPClient.Timeout <= 0 {
		c.HTTPClient.Timeout = 10 * time.Second
	}
	c.RetryMax = max(opts.Retries, 0)
	if opts.WaitMin > 0 {
		c.RetryWaitMin = opts.WaitMin
	}
	if opts.WaitMax > 0 {
		c.RetryWaitMax = opts.WaitMax
	}
	c.Logger = opts.Logger
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{http: c}
}

// StandardClient exposes the retrying client as a plain *http.Client.
func (c *Client) StandardClient() *http.Client {
	return c.http.StandardClient()
}

type Request struct {
	Method string
	URL    string
	Header http.Header
	// Body is sent as is when it is []byte or string, JSON encoded otherwise.
	Body     any
	Username string
	Password string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError is returned for non 2xx responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Do sends req, retrying connection errors and 5xx responses.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body any
	contentType := ""
	switch b := req.Body.(type) {
	case nil:
	case []byte:
		body = b
	case string:
		body = []byte(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = data
		contentType = "application/json"
	}

	r, err := retryablehttp.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			r.Header.Add(k, v)
		}
	}
	if contentType != "" && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", contentType)
	}
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/json")
	}
	if req.Username != "" {
		r.SetBasicAuth(req.Username, req.Password)
	}

	resp, err := c.http.Do(r)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, req.URL, err)
	}

	out := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &StatusError{
			Method:     method,
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Body:       string(truncate(bytes.TrimSpace(data), maxErrorBody)),
		}
	}
	return out, nil
}

// JSON sends req and decodes a successful response body into out (unless out is nil).
func (c *Client) JSON(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", req.URL, err)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
