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

package gpt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
	"github.com/deckhouse/kops-agent/pkg/httpclient"
)

const Name = "gpt_support"

const (
	ActionAnalyzeLog     plugin.Action = "analyze_log"
	ActionSuggestFix     plugin.Action = "suggest_fix"
	ActionExplainCommand plugin.Action = "explain_command"
	ActionGenerateScript plugin.Action = "generate_script"
)

const (
	temperature     = 0.3
	maxInputTokens  = 6000
	defaultLanguage = "bash"
	probeTimeout    = 5 * time.Second
)

var ErrNotConfigured = errors.New("openai_api_key is not configured")

// Plugin asks an OpenAI compatible chat completions API for operational advice.
type Plugin struct {
	plugin.Base

	apiKey   string
	model    string
	baseURL  string
	http     *httpclient.Client
	truncate func(text string, maxTokens int) string
	logger   *logging.Logger
}

type Option func(*Plugin)

func WithEndpoint(baseURL, apiKey, model string) Option {
	return func(p *Plugin) {
		p.baseURL, p.apiKey, p.model = baseURL, apiKey, model
	}
}

func New(cfg config.Accessor, logger *logging.Logger, opts ...Option) *Plugin {
	p := &Plugin{
		Base: plugin.NewBase(Name, "Integrate with OpenAI GPT for intelligent analysis and suggestions", "1.0.0",
			ActionAnalyzeLog, ActionSuggestFix, ActionExplainCommand, ActionGenerateScript),
		model:    "gpt-4",
		baseURL:  "https://api.openai.com/v1",
		http:     httpclient.FromConfig(cfg, logger),
		truncate: truncateToTokens,
		logger:   logger,
	}
	if cfg != nil {
		p.apiKey = cfg.GetString(config.KeyOpenAIAPIKey)
		if m := cfg.GetString(config.KeyOpenAIModel); m != "" {
			p.model = m
		}
		if u := cfg.GetString(config.KeyOpenAIBaseURL); u != "" {
			p.baseURL = u
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	p.baseURL = strings.TrimRight(p.baseURL, "/")
	return p
}

// Available checks the key against the models endpoint, which costs no tokens.
func (p *Plugin) Available(ctx context.Context) bool {
	if p.apiKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if _, err := p.http.Do(ctx, p.request(http.MethodGet, "/models", nil)); err != nil {
		p.logger.Error(ctx, "OpenAI API test failed", logging.Err(err))
		return false
	}
	return true
}

func (p *Plugin) Info(ctx context.Context) plugin.Info {
	return plugin.Describe(ctx, p)
}

func (p *Plugin) Execute(ctx context.Context, action plugin.Action, opts plugin.Options) (any, error) {
	if p.apiKey == "" {
		return nil, ErrNotConfigured
	}

	var (
		result any
		err    error
	)
	switch action {
	case ActionAnalyzeLog:
		result, err = p.analyzeLog(ctx, opts)
	case ActionSuggestFix:
		result, err = p.suggestFix(ctx, opts)
	case ActionExplainCommand:
		result, err = p.explainCommand(ctx, opts)
	case ActionGenerateScript:
		result, err = p.generateScript(ctx, opts)
	default:
		return nil, p.UnknownAction(action)
	}
	if err != nil {
		p.logger.Error(ctx, "GPT request failed", slog.String("action", action.String()), logging.Err(err))
		return nil, err
	}
	return result, nil
}

type LogAnalysis struct {
	Analysis   string `json:"analysis" yaml:"analysis"`
	Model      string `json:"model" yaml:"model"`
	TokensUsed int    `json:"tokens_used" yaml:"tokens_used"`
}

func (p *Plugin) analyzeLog(ctx context.Context, opts plugin.Options) (*LogAnalysis, error) {
	content, err := opts.RequireString("log_content")
	if err != nil {
		return nil, err
	}
	prompt, err := render(logAnalysisPrompt, map[string]string{
		"Context": opts.GetString("context", ""),
		"Logs":    p.truncate(content, maxInputTokens),
	})
	if err != nil {
		return nil, err
	}
	answer, err := p.complete(ctx, prompt, 1000)
	if err != nil {
		return nil, err
	}
	return &LogAnalysis{Analysis: answer.content, Model: p.model, TokensUsed: answer.tokens}, nil
}

type FixSuggestion struct {
	Suggestion string `json:"suggestion" yaml:"suggestion"`
	Model      string `json:"model" yaml:"model"`
	TokensUsed int    `json:"tokens_used" yaml:"tokens_used"`
}

func (p *Plugin) suggestFix(ctx context.Context, opts plugin.Options) (*FixSuggestion, error) {
	issue, err := opts.RequireString("issue")
	if err != nil {
		return nil, err
	}
	prompt, err := render(fixSuggestionPrompt, map[string]string{
		"Issue":   p.truncate(issue, maxInputTokens),
		"Context": opts.GetString("context", ""),
	})
	if err != nil {
		return nil, err
	}
	answer, err := p.complete(ctx, prompt, 1000)
	if err != nil {
		return nil, err
	}
	return &FixSuggestion{Suggestion: answer.content, Model: p.model, TokensUsed: answer.tokens}, nil
}

type CommandExplanation struct {
	Explanation string `json:"explanation" yaml:"explanation"`
	Model       string `json:"model" yaml:"model"`
	TokensUsed  int    `json:"tokens_used" yaml:"tokens_used"`
}

func (p *Plugin) explainCommand(ctx context.Context, opts plugin.Options) (*CommandExplanation, error) {
	command, err := opts.RequireString("command")
	if err != nil {
		return nil, err
	}
	prompt, err := render(commandExplanationPrompt, map[string]string{"Command": command})
	if err != nil {
		return nil, err
	}
	answer, err := p.complete(ctx, prompt, 500)
	if err != nil {
		return nil, err
	}
	return &CommandExplanation{Explanation: answer.content, Model: p.model, TokensUsed: answer.tokens}, nil
}

type GeneratedScript struct {
	Script     string `json:"script" yaml:"script"`
	Language   string `json:"language" yaml:"language"`
	Model      string `json:"model" yaml:"model"`
	TokensUsed int    `json:"tokens_used" yaml:"tokens_used"`
}

func (p *Plugin) generateScript(ctx context.Context, opts plugin.Options) (*GeneratedScript, error) {
	task, err := opts.RequireString("task")
	if err != nil {
		return nil, err
	}
	language := opts.GetString("language", defaultLanguage)
	prompt, err := render(scriptGenerationPrompt, map[string]string{"Task": task, "Language": language})
	if err != nil {
		return nil, err
	}
	answer, err := p.complete(ctx, prompt, 1500)
	if err != nil {
		return nil, err
	}
	return &GeneratedScript{Script: answer.content, Language: language, Model: p.model, TokensUsed: answer.tokens}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type answer struct {
	content string
	tokens  int
}

func (p *Plugin) complete(ctx context.Context, prompt string, maxTokens int) (answer, error) {
	var resp chatResponse
	err := p.http.JSON(ctx, p.request(http.MethodPost, "/chat/completions", chatRequest{
		Model:       p.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}), &resp)
	if err != nil {
		return answer{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return answer{}, errors.New("chat completion: empty response")
	}
	return answer{content: resp.Choices[0].Message.Content, tokens: resp.Usage.TotalTokens}, nil
}

func (p *Plugin) request(method, path string, body any) httpclient.Request {
	return httpclient.Request{
		Method: method,
		URL:    p.baseURL + path,
		Header: http.Header{"Authorization": {"Bearer " + p.apiKey}},
		Body:   body,
	}
}
