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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

// Keys read by the agent and the built-in plugins
const (
	KeyLogLevel    = "log_level"
	KeyServiceName = "service_name"

	KeyOpenAIAPIKey  = "openai_api_key"
	KeyOpenAIModel   = "openai_model"
	KeyOpenAIBaseURL = "openai_base_url"

	KeyPrometheusURL = "prometheus_url"

	KeyJenkinsURL      = "jenkins_url"
	KeyJenkinsUsername = "jenkins_username"
	KeyJenkinsToken    = "jenkins_token"

	KeyK8sConfigPath = "k8s_config_path"
	KeyK8sContext    = "k8s_context"

	KeyNotificationWebhook = "notification_webhook"
	KeyDingTalkWebhook     = "dingtalk_webhook"
	KeyFeishuWebhook       = "feishu_webhook"
	KeyTelegramBotToken    = "telegram_bot_token"
	KeyTelegramChatID      = "telegram_chat_id"
	KeyDiscordBotToken     = "discord_bot_token"
	KeyDiscordChannelID    = "discord_channel_id"

	KeySSHTimeout  = "ssh_timeout"
	KeySSHRetries  = "ssh_retries"
	KeySSHUsername = "ssh_username"

	KeyHTTPTimeout = "http_timeout"
	KeyHTTPRetries = "http_retries"

	KeyAllowCommands = "runner.allow_commands"
	KeyScriptTimeout = "runner.script_timeout"

	KeyProcRoot = "system.proc_root"

	KeyListen    = "server.listen"
	KeySchedules = "schedules"
)

const (
	EnvConfigFile     = "KOPS_CONFIG"
	DefaultConfigFile = "config/kops.yml"
)

// Accessor is the key based configuration view consumed by the core and the plugins.
// *viper.Viper satisfies it.
type Accessor interface {
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	IsSet(key string) bool
}

var _ Accessor = (*viper.Viper)(nil)

// SetDefaults installs the built-in defaults.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyServiceName, "kops-ai")
	v.SetDefault(KeyOpenAIModel, "gpt-4")
	v.SetDefault(KeyOpenAIBaseURL, "https://api.openai.com/v1")
	v.SetDefault(KeySSHTimeout, 30*time.Second)
	v.SetDefault(KeySSHRetries, 3)
	v.SetDefault(KeyHTTPTimeout, 10*time.Second)
	v.SetDefault(KeyHTTPRetries, 2)
	v.SetDefault(KeyAllowCommands, true)
	v.SetDefault(KeyScriptTimeout, 5*time.Minute)
	v.SetDefault(KeyProcRoot, "/proc")
	v.SetDefault(KeyListen, ":8080")
}

// New returns a viper instance with defaults and environment binding but no file.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load builds the configuration from defaults, the YAML file and the environment.
// path overrides $KOPS_CONFIG. A missing file is not an error.
func Load(path string) (*viper.Viper, error) {
	v := New()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	explicit := path != ""
	if path == "" {
		path = DefaultConfigFile
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if explicit {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
			return v, nil
		}
		return v, fmt.Errorf("read config file %s: %w", path, err)
	}

	return v, nil
}

// Validate reports every inconsistent setting at once.
func Validate(cfg Accessor) error {
	var result *multierror.Error

	if Duration(cfg, KeySSHTimeout) <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s must be positive", KeySSHTimeout))
	}
	if cfg.GetInt(KeySSHRetries) < 1 {
		result = multierror.Append(result, fmt.Errorf("%s must be at least 1", KeySSHRetries))
	}
	if cfg.GetInt(KeyHTTPRetries) < 0 {
		result = multierror.Append(result, fmt.Errorf("%s must not be negative", KeyHTTPRetries))
	}
	if Duration(cfg, KeyScriptTimeout) <= 0 {
		result = multierror.Append(result, fmt.Errorf("%s must be positive", KeyScriptTimeout))
	}
	for _, key := range []string{KeyPrometheusURL, KeyJenkinsURL, KeyNotificationWebhook, KeyOpenAIBaseURL} {
		if u := cfg.GetString(key); u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			result = multierror.Append(result, fmt.Errorf("%s must be an http(s) URL, got %q", key, u))
		}
	}
	if cfg.GetString(KeyJenkinsURL) != "" && cfg.GetString(KeyJenkinsUsername) != "" && cfg.GetString(KeyJenkinsToken) == "" {
		result = multierror.Append(result, fmt.Errorf("%s is required when %s is set", KeyJenkinsToken, KeyJenkinsUsername))
	}

	return result.ErrorOrNil()
}

// Duration reads key as a Go duration, treating bare integers as seconds
// (SSH_TIMEOUT=30 means thirty seconds, not thirty nanoseconds).
func Duration(cfg Accessor, key string) time.Duration {
	if n, err := strconv.Atoi(strings.TrimSpace(cfg.GetString(key))); err == nil {
		return time.Duration(n) * time.Second
	}
	return cfg.GetDuration(key)
}
