package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrSMSDisabled signals that SMS delivery is disabled via configuration.
var ErrSMSDisabled = errors.New("sms: delivery disabled")

// Message represents an outbound text message.
type Message struct {
	To   string
	Body string
}

// Sender defines behaviour for dispatching text messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// GatewaySettings capture the runtime configuration for the HTTP SMS gateway.
type GatewaySettings struct {
	Enabled bool
	URL     string
	APIKey  string
	From    string
	Timeout time.Duration
}

type gatewaySender struct {
	cfg    GatewaySettings
	client *http.Client
}

// NewGatewaySender builds a Sender that posts JSON payloads to an HTTP gateway.
func NewGatewaySender(cfg GatewaySettings) (Sender, error) {
	if cfg.Enabled && strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("sms: gateway url is required when enabled")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &gatewaySender{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (s *gatewaySender) Send(ctx context.Context, msg Message) error {
	if !s.cfg.Enabled {
		return ErrSMSDisabled
	}
	if strings.TrimSpace(msg.To) == "" {
		return errors.New("sms: recipient is required")
	}

	payload, err := json.Marshal(map[string]string{
		"from": s.cfg.From,
		"to":   msg.To,
		"body": msg.Body,
	})
	if err != nil {
		return fmt.Errorf("sms: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sms: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms: gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms: gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return nil
}

// CodeMessage formats the verification code body sent to stakeholders.
func CodeMessage(code string, ttl time.Duration) string {
	minutes := int(ttl.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, minutes)
}
