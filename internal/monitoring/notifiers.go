package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/engine"
)

// Notifier delivers one alert to an external channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert *Alert) error
}

// NotifierConfig holds the configuration for all notification channels
type NotifierConfig struct {
	Email   EmailConfig   `yaml:"email"`
	Webhook WebhookConfig `yaml:"webhook"`
	Slack   SlackConfig   `yaml:"slack"`
}

// EmailConfig configures SMTP alert delivery
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// WebhookConfig configures generic HTTP POST alert delivery
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
}

// SlackConfig configures Slack incoming-webhook alert delivery
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// BuildNotifiers constructs the enabled notification channels
func BuildNotifiers(logger *zap.Logger, config NotifierConfig) []Notifier {
	var notifiers []Notifier
	if config.Email.Enabled {
		notifiers = append(notifiers, NewEmailNotifier(config.Email))
		logger.Info("Email notifications enabled", zap.String("host", config.Email.Host))
	}
	if config.Webhook.Enabled {
		notifiers = append(notifiers, NewWebhookNotifier(config.Webhook))
		logger.Info("Webhook notifications enabled", zap.String("url", config.Webhook.URL))
	}
	if config.Slack.Enabled {
		notifiers = append(notifiers, NewSlackNotifier(config.Slack))
		logger.Info("Slack notifications enabled", zap.String("channel", config.Slack.Channel))
	}
	return notifiers
}

// EmailNotifier sends alerts over SMTP
type EmailNotifier struct {
	config EmailConfig
}

func NewEmailNotifier(config EmailConfig) *EmailNotifier {
	return &EmailNotifier{config: config}
}

func (n *EmailNotifier) Name() string { return "email" }

// Notify sends the alert as a plain-text mail. net/smtp has no context
// support, so cancellation only covers the time before the send starts.
func (n *EmailNotifier) Notify(ctx context.Context, alert *Alert) error {
	if len(n.config.To) == 0 {
		return fmt.Errorf("email recipients: %w", common.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)

	var body strings.Builder
	fmt.Fprintf(&body, "Alert:     %s\r\n", alert.Title)
	fmt.Fprintf(&body, "Severity:  %s\r\n", alert.Severity)
	fmt.Fprintf(&body, "Status:    %s\r\n", alert.Status)
	fmt.Fprintf(&body, "Component: %s\r\n", alert.Component)
	fmt.Fprintf(&body, "Time:      %s\r\n", alert.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&body, "\r\n%s\r\n", alert.Message)
	if len(alert.Metadata) > 0 {
		if meta, err := json.MarshalIndent(alert.Metadata, "", "  "); err == nil {
			fmt.Fprintf(&body, "\r\n%s\r\n", meta)
		}
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		n.config.From, strings.Join(n.config.To, ", "), subject, body.String())

	var auth smtp.Auth
	if n.config.Username != "" {
		auth = smtp.PlainAuth("", n.config.Username, n.config.Password, n.config.Host)
	}
	addr := fmt.Sprintf("%s:%d", n.config.Host, n.config.Port)
	if err := smtp.SendMail(addr, auth, n.config.From, n.config.To, []byte(msg)); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// WebhookNotifier POSTs the alert as JSON to a configured endpoint
type WebhookNotifier struct {
	config WebhookConfig
	client *http.Client
}

func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	return &WebhookNotifier{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Name() string { return "webhook" }

func (n *WebhookNotifier) Notify(ctx context.Context, alert *Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.config.Token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackNotifier posts alerts to a Slack incoming webhook as attachments
type SlackNotifier struct {
	config SlackConfig
	client *http.Client
}

func NewSlackNotifier(config SlackConfig) *SlackNotifier {
	if config.Channel == "" {
		config.Channel = "#alerts"
	}
	if config.Username == "" {
		config.Username = "Banto Alert"
	}
	return &SlackNotifier{
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *SlackNotifier) Name() string { return "slack" }

func (n *SlackNotifier) Notify(ctx context.Context, alert *Alert) error {
	payload := map[string]interface{}{
		"channel":  n.config.Channel,
		"username": n.config.Username,
		"attachments": []map[string]interface{}{
			{
				"color": slackColor(alert),
				"title": alert.Title,
				"text":  alert.Message,
				"fields": []map[string]interface{}{
					{"title": "Severity", "value": string(alert.Severity), "short": true},
					{"title": "Status", "value": string(alert.Status), "short": true},
					{"title": "Component", "value": alert.Component, "short": true},
					{"title": "Time", "value": alert.CreatedAt.Format(time.RFC3339), "short": true},
				},
				"footer": "Banto",
				"ts":     alert.CreatedAt.Unix(),
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

func slackColor(alert *Alert) string {
	if alert.Status == StatusResolved {
		return "good"
	}
	switch alert.Severity {
	case engine.SeverityCritical:
		return "#ff0000"
	case engine.SeverityError:
		return "danger"
	case engine.SeverityWarning:
		return "warning"
	default:
		return "good"
	}
}
