// Package alert decides notification eligibility per rate-limit window and
// dispatches water-quality alerts to registered recipients.
package alert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"procodus.dev/aquamon/internal/classify"
)

// Sender dispatches one alert message to one recipient. Implementations
// report failure through the error and never panic past this boundary;
// retry policy belongs to the caller.
type Sender interface {
	Send(ctx context.Context, recipientAddress, nodeID string, status classify.Status) error
}

// DefaultSendTimeout bounds one dispatch so a transport outage cannot stall
// a gate invocation.
const DefaultSendTimeout = 5 * time.Second

// Mailer sends alert emails through a Mailgun-compatible messages API.
type Mailer struct {
	httpClient *http.Client
	baseURL    string
	domain     string
	apiKey     string
	from       string
}

// MailerConfig holds the configuration for the Mailer.
type MailerConfig struct {
	// BaseURL is the provider API root (defaults to the Mailgun US endpoint).
	BaseURL string
	// Domain is the sending domain registered with the provider.
	Domain string
	// APIKey authenticates against the messages API.
	APIKey string
	// From is the sender address (defaults to alerts@<domain>).
	From string
	// Timeout bounds one dispatch (defaults to DefaultSendTimeout).
	Timeout time.Duration
}

// NewMailer creates a Mailer.
func NewMailer(cfg *MailerConfig) (*Mailer, error) {
	if cfg == nil {
		return nil, errors.New("mailer config cannot be nil")
	}

	if cfg.Domain == "" {
		return nil, errors.New("mail domain cannot be empty")
	}

	if cfg.APIKey == "" {
		return nil, errors.New("mail API key cannot be empty")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.mailgun.net"
	}

	from := cfg.From
	if from == "" {
		from = "alerts@" + cfg.Domain
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	return &Mailer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		domain:     cfg.Domain,
		apiKey:     cfg.APIKey,
		from:       from,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Send formats the fixed alert template and posts it to the messages API.
// Any transport error or non-2xx response is a failure.
func (m *Mailer) Send(ctx context.Context, recipientAddress, nodeID string, status classify.Status) error {
	now := time.Now().UTC()
	ref := uuid.NewString()

	form := url.Values{}
	form.Set("from", m.from)
	form.Set("to", recipientAddress)
	form.Set("subject", fmt.Sprintf("Water quality alert: node %s is %s", nodeID, status))
	form.Set("text", fmt.Sprintf(
		"Node %s reported status %s at %s.\n\nAlert reference: %s\n",
		nodeID, status, now.Format(time.RFC3339), ref,
	))

	endpoint := fmt.Sprintf("%s/v3/%s/messages", m.baseURL, m.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mail dispatch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mail provider returned status %d", resp.StatusCode)
	}

	return nil
}
