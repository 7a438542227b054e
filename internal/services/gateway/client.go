// Package gateway wraps the external payment network. Every method is
// a single network call that reports failure to the caller and never
// retries on its own: retry policy for money movement belongs to the
// purchase state machine, because a blind payout retry risks paying
// twice.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/missionhub/backend/internal/domain/money"
)

var (
	ErrValidation = errors.New("validation error")

	// ErrCallFailed covers both transport failures and non-2xx
	// responses. The caller drives its disputed/cancelled branches off
	// this; the wrapped detail is for the logs.
	ErrCallFailed = errors.New("payment gateway call failed")

	// ErrMissingPayoutID means the network accepted a payout but the
	// response carried no identifier. Real money moved and we cannot
	// link it to anything locally.
	ErrMissingPayoutID = errors.New("payout response missing payment identifier")
)

type Config struct {
	BaseURL string
	APIKey  string
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("gateway base url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gateway api key is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
	}, nil
}

// Approve confirms a buyer-initiated payment. Idempotent on the
// provider side.
func (c *Client) Approve(ctx context.Context, paymentID string) error {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return ErrValidation
	}
	_, err := c.post(ctx, fmt.Sprintf("/payments/%s/approve", paymentID), nil)
	return err
}

// Complete finalizes a buyer-initiated payment. Only legal after
// Approve has succeeded.
func (c *Client) Complete(ctx context.Context, paymentID string) error {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return ErrValidation
	}
	_, err := c.post(ctx, fmt.Sprintf("/payments/%s/complete", paymentID), nil)
	return err
}

// UserInfo is the identity the network reports for an access token.
type UserInfo struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
}

// Me verifies a user-supplied access token against the network and
// returns the identity it belongs to. This is the only call made with
// the user's token instead of the platform key.
func (c *Client) Me(ctx context.Context, accessToken string) (UserInfo, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return UserInfo{}, ErrValidation
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/me", nil)
	if err != nil {
		return UserInfo{}, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: %v", ErrCallFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: read response: %v", ErrCallFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return UserInfo{}, fmt.Errorf("%w: /me returned status %d", ErrCallFailed, resp.StatusCode)
	}

	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return UserInfo{}, fmt.Errorf("%w: decode /me response: %v", ErrCallFailed, err)
	}
	if strings.TrimSpace(info.UID) == "" {
		return UserInfo{}, fmt.Errorf("%w: /me response missing uid", ErrCallFailed)
	}
	return info, nil
}

type payoutRequest struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Memo      string `json:"memo"`
}

type payoutResponse struct {
	Identifier string `json:"identifier"`
}

// CreatePayout starts a platform-to-user transfer and returns the
// provider's payout identifier. The amount goes over the wire as a
// fixed-7-decimal string, never a binary float.
func (c *Client) CreatePayout(ctx context.Context, recipient string, amount decimal.Decimal, memo string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" || !amount.IsPositive() {
		return "", ErrValidation
	}

	body, err := c.post(ctx, "/payments", payoutRequest{
		Recipient: recipient,
		Amount:    money.Format(amount),
		Memo:      memo,
	})
	if err != nil {
		return "", err
	}

	var resp payoutResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode payout response: %v", ErrCallFailed, err)
	}
	if strings.TrimSpace(resp.Identifier) == "" {
		return "", ErrMissingPayoutID
	}
	return resp.Identifier, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal gateway payload: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCallFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrCallFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrCallFailed, path, resp.StatusCode)
	}
	return body, nil
}
