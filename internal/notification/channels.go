package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// ChannelSender performs the actual transport for one channel. The core only
// orchestrates senders; provider failures come back as ordinary errors and
// are recorded on the matching DeliveryChannel.
type ChannelSender interface {
	Send(ctx context.Context, n *Notification, recipient *Recipient) error
}

// Senders maps each delivery channel to its transport.
type Senders map[string]ChannelSender

// NewSenders builds the production sender set from the environment.
func NewSenders(emailCfg *EmailConfig, smsCfg *WebhookConfig, pushCfg *WebhookConfig, logger *zap.Logger) Senders {
	return Senders{
		ChannelWeb:   NewWebSender(logger),
		ChannelEmail: NewEmailSender(emailCfg),
		ChannelSMS:   NewWebhookSender(ChannelSMS, smsCfg),
		ChannelPush:  NewWebhookSender(ChannelPush, pushCfg),
	}
}

// WebSender handles the in-app channel. The recipient record embedded in the
// notification document is the in-app inbox, so there is nothing to
// transport; delivery succeeds once the document is persisted.
type WebSender struct {
	logger *zap.Logger
}

// NewWebSender creates the in-app sender.
func NewWebSender(logger *zap.Logger) *WebSender {
	return &WebSender{logger: logger}
}

func (s *WebSender) Send(ctx context.Context, n *Notification, recipient *Recipient) error {
	s.logger.Debug("web notification delivered",
		zap.String("user_id", recipient.UserID),
		zap.String("title", n.Title))
	return nil
}

// EmailConfig carries the Resend credentials.
type EmailConfig struct {
	APIKey string
	From   string
}

// NewEmailConfig reads the Resend settings from the environment.
func NewEmailConfig() (*EmailConfig, error) {
	apiKey := os.Getenv("RESEND_API_KEY")
	from := os.Getenv("FROM_EMAIL")
	if apiKey == "" || from == "" {
		return nil, fmt.Errorf("RESEND_API_KEY and FROM_EMAIL must be set")
	}
	return &EmailConfig{APIKey: apiKey, From: from}, nil
}

// EmailSender delivers through Resend, addressing the email snapshotted on
// the recipient at resolution time.
type EmailSender struct {
	client *resend.Client
	from   string
}

// NewEmailSender creates a Resend-backed email sender.
func NewEmailSender(cfg *EmailConfig) *EmailSender {
	return &EmailSender{client: resend.NewClient(cfg.APIKey), from: cfg.From}
}

func (s *EmailSender) Send(ctx context.Context, n *Notification, recipient *Recipient) error {
	if recipient.Email == "" {
		return fmt.Errorf("recipient %s has no email address", recipient.UserID)
	}
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{recipient.Email},
		Subject: n.Title,
		Html:    n.Content,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("send email to %s: %w", recipient.UserID, err)
	}
	return nil
}

// WebhookConfig points at an external delivery provider.
type WebhookConfig struct {
	URL    string
	APIKey string
}

// NewSMSWebhookConfig reads the SMS provider settings from the environment.
func NewSMSWebhookConfig() *WebhookConfig {
	return &WebhookConfig{URL: os.Getenv("SMS_WEBHOOK_URL"), APIKey: os.Getenv("SMS_API_KEY")}
}

// NewPushWebhookConfig reads the push provider settings from the environment.
func NewPushWebhookConfig() *WebhookConfig {
	return &WebhookConfig{URL: os.Getenv("PUSH_WEBHOOK_URL"), APIKey: os.Getenv("PUSH_API_KEY")}
}

// WebhookSender posts the notification to an external provider endpoint with
// a bearer key. Used for the sms and push channels.
type WebhookSender struct {
	channel string
	cfg     *WebhookConfig
	client  *http.Client
}

// NewWebhookSender creates a provider-webhook sender for the given channel.
func NewWebhookSender(channel string, cfg *WebhookConfig) *WebhookSender {
	return &WebhookSender{
		channel: channel,
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookPayload struct {
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Priority string `json:"priority"`
	Silent   bool   `json:"silent"`
}

func (s *WebhookSender) Send(ctx context.Context, n *Notification, recipient *Recipient) error {
	if s.cfg.URL == "" {
		return fmt.Errorf("%s provider not configured", s.channel)
	}

	body, err := json.Marshal(webhookPayload{
		UserID:   recipient.UserID,
		Title:    n.Title,
		Content:  n.Content,
		Priority: n.Priority,
		Silent:   n.Settings.Silent,
	})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", s.channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", s.channel, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s to %s: %w", s.channel, recipient.UserID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s provider returned status %d", s.channel, resp.StatusCode)
	}
	return nil
}
