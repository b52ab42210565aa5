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

package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/deckhouse/kops-agent/internal/config"
	"github.com/deckhouse/kops-agent/internal/logging"
	"github.com/deckhouse/kops-agent/internal/plugin"
	"github.com/deckhouse/kops-agent/pkg/httpclient"
)

const Name = "notifier"

// Actions are the delivery platforms.
const (
	ActionWebhook  plugin.Action = "webhook"
	ActionDingTalk plugin.Action = "dingtalk"
	ActionFeishu   plugin.Action = "feishu"
	ActionTelegram plugin.Action = "telegram"
	ActionDiscord  plugin.Action = "discord"
)

const (
	defaultTitle       = "KopsAI Notification"
	defaultLevel       = "info"
	defaultTelegramAPI = "https://api.telegram.org"
	timeLayout         = "2006-01-02 15:04:05"
)

var ErrNotConfigured = errors.New("notification target is not configured")

// Message is the platform independent notification.
type Message struct {
	Title   string
	Text    string
	Level   string
	Details string
	Time    time.Time
}

// Delivery reports the outcome of a notification.
// A target that answered with an error status is an unsuccessful delivery, not an error.
type Delivery struct {
	Success  bool   `json:"success" yaml:"success"`
	Platform string `json:"platform" yaml:"platform"`
	Response string `json:"response,omitempty" yaml:"response,omitempty"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

type settings struct {
	webhook          string
	dingtalk         string
	feishu           string
	telegramToken    string
	telegramChatID   string
	discordToken     string
	discordChannelID string
}

// Plugin delivers notifications to chat platforms and generic webhooks.
type Plugin struct {
	plugin.Base

	settings    settings
	http        *httpclient.Client
	telegramAPI string
	discordHTTP *http.Client
	logger      *logging.Logger
	now         func() time.Time
}

type Option func(*Plugin)

func WithTelegramAPI(base string) Option {
	return func(p *Plugin) {
		p.telegramAPI = strings.TrimRight(base, "/")
	}
}

// WithDiscordHTTPClient sets the client used by the Discord session.
func WithDiscordHTTPClient(c *http.Client) Option {
	return func(p *Plugin) {
		p.discordHTTP = c
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Plugin) {
		p.now = now
	}
}

func New(cfg config.Accessor, logger *logging.Logger, opts ...Option) *Plugin {
	p := &Plugin{
		Base: plugin.NewBase(Name, "Send notifications to DingTalk, Feishu, Telegram, Discord and webhooks", "1.0.0",
			ActionWebhook, ActionDingTalk, ActionFeishu, ActionTelegram, ActionDiscord),
		http:        httpclient.FromConfig(cfg, logger),
		telegramAPI: defaultTelegramAPI,
		logger:      logger,
		now:         time.Now,
	}
	if cfg != nil {
		p.settings = settings{
			webhook:          cfg.GetString(config.KeyNotificationWebhook),
			dingtalk:         cfg.GetString(config.KeyDingTalkWebhook),
			feishu:           cfg.GetString(config.KeyFeishuWebhook),
			telegramToken:    cfg.GetString(config.KeyTelegramBotToken),
			telegramChatID:   cfg.GetString(config.KeyTelegramChatID),
			discordToken:     cfg.GetString(config.KeyDiscordBotToken),
			discordChannelID: cfg.GetString(config.KeyDiscordChannelID),
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.discordHTTP == nil {
		p.discordHTTP = p.http.StandardClient()
	}
	return p
}

func (p *Plugin) Info(ctx context.Context) plugin.Info {
	return plugin.Describe(ctx, p)
}

func (p *Plugin) Execute(ctx context.Context, action plugin.Action, opts plugin.Options) (any, error) {
	text, err := opts.RequireString("message")
	if err != nil {
		return nil, err
	}
	msg := Message{
		Title:   opts.GetString("title", defaultTitle),
		Text:    text,
		Level:   opts.GetString("level", defaultLevel),
		Details: opts.GetString("details", ""),
		Time:    p.now(),
	}

	var delivery *Delivery
	switch action {
	case ActionWebhook:
		delivery, err = p.webhook(ctx, msg, opts)
	case ActionDingTalk:
		delivery, err = p.dingtalk(ctx, msg, opts)
	case ActionFeishu:
		delivery, err = p.feishu(ctx, msg, opts)
	case ActionTelegram:
		delivery, err = p.telegram(ctx, msg, opts)
	case ActionDiscord:
		delivery, err = p.discord(ctx, msg, opts)
	default:
		return nil, p.UnknownAction(action)
	}
	if err != nil {
		p.logger.Error(ctx, "Notification failed", slog.String("platform", action.String()), logging.Err(err))
		return nil, err
	}
	if !delivery.Success {
		p.logger.Warn(ctx, "Notification rejected",
			slog.String("platform", action.String()),
			slog.String("error", delivery.Error),
		)
	}
	return delivery, nil
}

func (p *Plugin) webhook(ctx context.Context, msg Message, opts plugin.Options) (*Delivery, error) {
	url, err := target(opts.GetString("webhook_url", p.settings.webhook), "webhook URL")
	if err != nil {
		return nil, err
	}

	payload := map[string]any{}
	for k, v := range opts {
		payload[k] = v
	}
	payload["title"] = msg.Title
	payload["message"] = msg.Text
	payload["level"] = msg.Level
	payload["timestamp"] = msg.Time.UTC().Format(time.RFC3339)
	delete(payload, "webhook_url")

	return p.post(ctx, url, payload)
}

func (p *Plugin) dingtalk(ctx context.Context, msg Message, opts plugin.Options) (*Delivery, error) {
	url, err := target(opts.GetString("webhook_url", p.settings.dingtalk), "DingTalk webhook URL")
	if err != nil {
		return nil, err
	}
	return p.post(ctx, url, map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]any{
			"title": msg.Title,
			"text":  markdown("## "+msg.Title, msg),
		},
	})
}

func (p *Plugin) feishu(ctx context.Context, msg Message, opts plugin.Options) (*Delivery, error) {
	url, err := target(opts.GetString("webhook_url", p.settings.feishu), "Feishu webhook URL")
	if err != nil {
		return nil, err
	}
	return p.post(ctx, url, map[string]any{
		"msg_type": "post",
		"content": map[string]any{
			"post": map[string]any{
				"zh_cn": map[string]any{
					"title":   msg.Title,
					"content": feishuContent(msg),
				},
			},
		},
	})
}

func (p *Plugin) telegram(ctx context.Context, msg Message, opts plugin.Options) (*Delivery, error) {
	token := opts.GetString("bot_token", p.settings.telegramToken)
	chatID := opts.GetString("chat_id", p.settings.telegramChatID)
	if token == "" || chatID == "" {
		return nil, fmt.Errorf("%w: Telegram bot token or chat ID", ErrNotConfigured)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", p.telegramAPI, token)
	d, err := p.post(ctx, url, map[string]any{
		"chat_id":    chatID,
		"text":       markdown("*"+msg.Title+"*", msg),
		"parse_mode": "Markdown",
	})
	if err != nil {
		return nil, fmt.Errorf("send telegram message: %s", strings.ReplaceAll(err.Error(), token, "***"))
	}
	d.Platform = "telegram"
	d.Error = strings.ReplaceAll(d.Error, token, "***")
	return d, nil
}

func (p *Plugin) discord(ctx context.Context, msg Message, opts plugin.Options) (*Delivery, error) {
	token := opts.GetString("bot_token", p.settings.discordToken)
	channelID := opts.GetString("channel_id", p.settings.discordChannelID)
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("%w: Discord bot token or channel ID", ErrNotConfigured)
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Client = p.discordHTTP

	sent, err := session.ChannelMessageSendEmbed(channelID, discordEmbed(msg), discordgo.WithContext(ctx))
	if err != nil {
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil {
			return &Delivery{
				Platform: "discord",
				Error:    fmt.Sprintf("HTTP %d: %s", restErr.Response.StatusCode, strings.TrimSpace(string(restErr.ResponseBody))),
			}, nil
		}
		return nil, fmt.Errorf("send discord message: %w", err)
	}
	return &Delivery{Success: true, Platform: "discord", Response: sent.ID}, nil
}

func (p *Plugin) post(ctx context.Context, url string, payload any) (*Delivery, error) {
	resp, err := p.http.Do(ctx, httpclient.Request{Method: http.MethodPost, URL: url, Body: payload})
	var statusErr *httpclient.StatusError
	switch {
	case errors.As(err, &statusErr):
		return &Delivery{
			Platform: url,
			Error:    fmt.Sprintf("HTTP %d: %s", statusErr.StatusCode, statusErr.Body),
		}, nil
	case err != nil:
		return nil, err
	}
	return &Delivery{Success: true, Platform: url, Response: string(resp.Body)}, nil
}

func target(url, what string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, what)
	}
	return url, nil
}
