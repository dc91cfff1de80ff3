package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MailClient handles communication with the mail relay. Delivery is
// best-effort: callers log failures and tell the user to retry, they never
// block the main path on the relay.
type MailClient struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
}

// NewMailClient creates a new mail relay client
func NewMailClient(baseURL, apiKey, from string) *MailClient {
	return &MailClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendMailRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Send delivers a single message through the relay
func (c *MailClient) Send(ctx context.Context, to, subject, body string) error {
	url := fmt.Sprintf("%s/api/v1/send", c.baseURL)

	payload, err := json.Marshal(sendMailRequest{
		From:    c.from,
		To:      to,
		Subject: subject,
		Body:    body,
	})
	if err != nil {
		return fmt.Errorf("marshal mail: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("mail relay returned status %d", resp.StatusCode)
	}

	return nil
}

// SendVerificationCode mails a one-time code for the given purpose
func (c *MailClient) SendVerificationCode(ctx context.Context, to, code, purpose string) error {
	var subject, body string
	switch purpose {
	case "password_reset":
		subject = "Your password reset code"
		body = fmt.Sprintf("Your password reset code is %s. It expires in a few minutes. If you did not request this, ignore this email.", code)
	default:
		subject = "Verify your email address"
		body = fmt.Sprintf("Your verification code is %s. It expires in a few minutes.", code)
	}
	return c.Send(ctx, to, subject, body)
}
