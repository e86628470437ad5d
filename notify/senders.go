package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultSendTimeout = 15 * time.Second

func newHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: defaultSendTimeout}
}

// SlackSender posts messages to a Slack incoming webhook
type SlackSender struct {
	webhookURL string
	client     *http.Client
	logger     *zap.SugaredLogger
}

// NewSlackSender creates a Slack sender. client may be nil.
func NewSlackSender(webhookURL string, client *http.Client, logger *zap.SugaredLogger) *SlackSender {
	return &SlackSender{webhookURL: webhookURL, client: newHTTPClient(client), logger: logger}
}

func (s *SlackSender) Channel() string { return "slack" }

func (s *SlackSender) Send(ctx context.Context, target, subject, body string) error {
	if s.webhookURL == "" {
		return fmt.Errorf("slack webhook URL is not configured")
	}

	text := body
	if subject != "" {
		text = fmt.Sprintf("*%s*\n%s", subject, body)
	}
	payload := map[string]string{"text": text}
	if target != "" {
		payload["channel"] = target
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	s.logger.Debugw("Slack message delivered", "target", target)
	return nil
}

// EmailSender delivers messages over SMTP
type EmailSender struct {
	host     string
	port     int
	from     string
	username string
	password string
	logger   *zap.SugaredLogger
}

// NewEmailSender creates an SMTP sender. username may be empty for
// unauthenticated relays.
func NewEmailSender(host string, port int, from, username, password string, logger *zap.SugaredLogger) *EmailSender {
	return &EmailSender{host: host, port: port, from: from, username: username, password: password, logger: logger}
}

func (s *EmailSender) Channel() string { return "email" }

func (s *EmailSender) Send(ctx context.Context, target, subject, body string) error {
	if s.host == "" {
		return fmt.Errorf("smtp host is not configured")
	}
	if target == "" {
		return fmt.Errorf("email recipient is required")
	}
	if subject == "" {
		subject = "Incident notification"
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", target)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	errCh := make(chan error, 1)
	go func() {
		errCh <- smtp.SendMail(addr, auth, s.from, []string{target}, []byte(msg.String()))
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("smtp delivery failed: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Debugw("Email delivered", "to", target)
	return nil
}

const pagerDutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDutySender triggers events through the PagerDuty Events API v2
type PagerDutySender struct {
	routingKey string
	eventsURL  string
	client     *http.Client
	logger     *zap.SugaredLogger
}

// NewPagerDutySender creates a PagerDuty sender. client may be nil.
func NewPagerDutySender(routingKey string, client *http.Client, logger *zap.SugaredLogger) *PagerDutySender {
	return &PagerDutySender{
		routingKey: routingKey,
		eventsURL:  pagerDutyEventsURL,
		client:     newHTTPClient(client),
		logger:     logger,
	}
}

func (s *PagerDutySender) Channel() string { return "pagerduty" }

func (s *PagerDutySender) Send(ctx context.Context, target, subject, body string) error {
	// A per-message routing key in target overrides the configured one
	routingKey := s.routingKey
	if target != "" {
		routingKey = target
	}
	if routingKey == "" {
		return fmt.Errorf("pagerduty routing key is not configured")
	}

	summary := subject
	if summary == "" {
		summary = body
	}
	event := map[string]interface{}{
		"routing_key":  routingKey,
		"event_action": "trigger",
		"payload": map[string]interface{}{
			"summary":        summary,
			"source":         "aegis",
			"severity":       "critical",
			"custom_details": map[string]string{"body": body},
		},
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode pagerduty event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.eventsURL, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to build pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("pagerduty request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("pagerduty returned status %d", resp.StatusCode)
	}
	s.logger.Debugw("PagerDuty event delivered")
	return nil
}
