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
	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
)

// FromConfig builds a client using the http_timeout and http_retries settings.
func FromConfig(cfg config.Accessor, logger *logging.Logger) *Client {
	opts := Options{}
	if cfg != nil {
		opts.Timeout = config.Duration(cfg, config.KeyHTTPTimeout)
		opts.Retries = cfg.GetInt(config.KeyHTTPRetries)
	}
	if logger != nil {
		opts.Logger = LeveledLogger{Logger: logger}
	}
	return New(opts)
}
