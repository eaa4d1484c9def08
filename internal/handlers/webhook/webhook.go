package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dispatchd/internal/domain"
)

// Webhook posts deliveries as JSON to a fixed URL. It backs the email and
// sms channels, where an external gateway does the actual sending.
type Webhook struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
	Channel string
}

type payload struct {
	MessageID     string `json:"message_id"`
	Content       string `json:"content"`
	Recipient     string `json:"recipient,omitempty"`
	RecipientType string `json:"recipient_type"`
	Priority      string `json:"priority"`
}

func New(channel, url string, headers map[string]string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 30 * time.Second // default 30 seconds
	}
	return &Webhook{
		URL:     url,
		Headers: headers,
		Client:  &http.Client{Timeout: timeout},
		Channel: channel,
	}
}

func (h *Webhook) Deliver(ctx context.Context, d domain.Delivery) error {
	if h.URL == "" {
		return &domain.DeliveryError{Channel: h.Channel, Message: "webhook URL is not configured"}
	}
	if d.Recipient == "" {
		return &domain.DeliveryError{Channel: h.Channel, Message: "recipient is required"}
	}

	body, err := json.Marshal(payload{
		MessageID:     d.MessageID,
		Content:       d.Content,
		Recipient:     d.Recipient,
		RecipientType: string(d.RecipientType),
		Priority:      string(d.Priority),
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return &domain.DeliveryError{Channel: h.Channel, Message: "failed to create HTTP request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", d.MessageID)
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return &domain.DeliveryError{Channel: h.Channel, Message: "HTTP request failed", Err: err}
	}
	defer resp.Body.Close()

	// Check for HTTP errors (4xx, 5xx)
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &domain.DeliveryError{
			Channel: h.Channel,
			Message: fmt.Sprintf("HTTP %d error: %s", resp.StatusCode, bytes.TrimSpace(respBody)),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
