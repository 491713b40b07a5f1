// Package wa is the WhatsApp Cloud API gateway: message sends, the
// owner_notify template fallback, and private-chat deep links.
//
// Every call has a bounded timeout and goes through a client-side rate
// limiter; a timeout surfaces as a send failure, never a hang.
package wa

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

	"golang.org/x/time/rate"

	"wagenda/pkg/logx"
)

type Config struct {
	BaseURL       string // e.g. "https://graph.facebook.com"
	APIVersion    string // e.g. "v19.0"
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
	RatePerSec    int
}

// SendResult is the provider acknowledgement for one outbound message.
type SendResult struct {
	MessageID string
}

type Client struct {
	http    *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, errors.New("wa: phone number id is required")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("wa: access token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v19.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout},
		baseURL: fmt.Sprintf("%s/%s/%s", strings.TrimRight(cfg.BaseURL, "/"), cfg.APIVersion, cfg.PhoneNumberID),
		token:   cfg.AccessToken,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) (*sendResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("wa: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("wa: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseAPIError(resp.StatusCode, raw)
		c.log.Error("api request failed",
			logx.String("path", path),
			logx.Int("status", resp.StatusCode),
			logx.Int("code", apiErr.Code),
			logx.Int("subcode", apiErr.Subcode))
		return nil, apiErr
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("wa: decode response: %w", err)
	}
	return &out, nil
}

func (c *Client) send(ctx context.Context, payload map[string]any) (SendResult, error) {
	resp, err := c.post(ctx, "/messages", payload)
	if err != nil {
		return SendResult{}, err
	}
	if len(resp.Messages) == 0 {
		return SendResult{}, errors.New("wa: no message id returned")
	}
	return SendResult{MessageID: resp.Messages[0].ID}, nil
}

// SendText delivers plain text. The recipient type is derived from the id:
// group jids end in "@g.us", anything else is an individual.
func (c *Client) SendText(ctx context.Context, to, text string) (SendResult, error) {
	return c.send(ctx, textMessage(to, text, recipientType(to)))
}

// SendInteractive delivers a body with URL buttons (used for owner
// notifications carrying the open-chat deep link).
func (c *Client) SendInteractive(ctx context.Context, to, body string, buttons []URLButton) (SendResult, error) {
	return c.send(ctx, interactiveButtons(to, body, buttons))
}

// SendTemplate delivers a pre-approved template message; the only path
// allowed once the 24h messaging window has closed.
func (c *Client) SendTemplate(ctx context.Context, to, name, language string, components []map[string]any) (SendResult, error) {
	return c.send(ctx, templateMessage(to, name, language, components))
}

func recipientType(id string) string {
	if strings.HasSuffix(id, "@g.us") {
		return "group"
	}
	return "individual"
}

// PrivateChatLink builds the wa.me deep link for a sender's phone id.
func PrivateChatLink(waID string) string {
	return "https://wa.me/" + strings.TrimPrefix(strings.TrimSpace(waID), "+")
}
