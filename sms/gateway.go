// Package sms delivers step-up verification codes. Gateway is the
// delivery boundary; MobizonClient is the production implementation,
// NoOpGateway stands in where delivery is disabled.
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrDelivery marks provider-side failures: transport errors, non-OK
// status codes, and provider error payloads.
var ErrDelivery = errors.New("sms delivery failed")

// Gateway sends one message to one recipient.
type Gateway interface {
	Send(ctx context.Context, to, body string) error
}

const mobizonSendURL = "https://api.mobizon.kz/service/message/sendsmsmessage"

// MobizonClient sends through the Mobizon HTTP API. With DryRun set (or
// no API key) it logs instead of sending, for local development.
type MobizonClient struct {
	apiKey     string
	sender     string
	dryRun     bool
	sendURL    string
	httpClient *http.Client
}

type MobizonConfig struct {
	APIKey   string
	SenderID string
	DryRun   bool
	// SendURL overrides the API endpoint, for tests.
	SendURL string
	// HTTPClient defaults to a client with a 10-second timeout.
	HTTPClient *http.Client
}

type mobizonResponse struct {
	Code int `json:"code"`
	Data struct {
		MessageID string `json:"messageId"`
	} `json:"data"`
}

func NewMobizonClient(cfg MobizonConfig) *MobizonClient {
	sendURL := cfg.SendURL
	if sendURL == "" {
		sendURL = mobizonSendURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &MobizonClient{
		apiKey:     cfg.APIKey,
		sender:     cfg.SenderID,
		dryRun:     cfg.DryRun || cfg.APIKey == "",
		sendURL:    sendURL,
		httpClient: httpClient,
	}
}

func (c *MobizonClient) Send(ctx context.Context, to, body string) error {
	if c.dryRun {
		log.Printf("sms dry-run: to=%s body=%q", to, body)
		return nil
	}

	form := url.Values{
		"apiKey":    {c.apiKey},
		"recipient": {to},
		"text":      {body},
	}
	if c.sender != "" {
		form.Set("from", c.sender)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sendURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrDelivery, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	var parsed mobizonResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	if parsed.Code != 0 {
		return fmt.Errorf("%w: provider code %d", ErrDelivery, parsed.Code)
	}
	return nil
}

// NoOpGateway accepts every send without doing anything.
type NoOpGateway struct{}

func (NoOpGateway) Send(context.Context, string, string) error { return nil }

// MaskPhone hides all but the last two digits for display: +77011234455
// becomes +7********55.
func MaskPhone(phone string) string {
	if len(phone) < 4 {
		return "****"
	}
	keep := 2
	prefix := ""
	rest := phone
	if strings.HasPrefix(phone, "+") {
		prefix = phone[:2]
		rest = phone[2:]
	}
	if len(rest) <= keep {
		return prefix + rest
	}
	return prefix + strings.Repeat("*", len(rest)-keep) + rest[len(rest)-keep:]
}
