package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ResendProvider implements email sending via the Resend API
type ResendProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type resendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

// NewResendProvider creates a new Resend email provider
func NewResendProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is required for Resend provider", ErrProviderConfig)
	}
	baseURL := "https://api.resend.com"
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	return &ResendProvider{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeoutOrDefault(cfg.Timeout)},
	}, nil
}

func (r *ResendProvider) Name() string {
	return "resend"
}

// Send sends an email via the Resend API
func (r *ResendProvider) Send(ctx context.Context, message *Message) error {
	body, err := json.Marshal(resendRequest{
		From:    message.From,
		To:      []string{message.To},
		Subject: message.Subject,
		HTML:    message.HTML,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to marshal request: %v", ErrEmailSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrEmailSendFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %v", ErrEmailSendFailed, err)
	}
	defer resp.Body.Close()

	var result resendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrEmailSendFailed, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: Resend API error (%d): %s", ErrEmailSendFailed, resp.StatusCode, result.Message)
	}
	return nil
}
