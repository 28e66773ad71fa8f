// Package yoco implements the Yoco online charge API client.
package yoco

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrDeclined indicates the provider rejected the charge.
var ErrDeclined = errors.New("yoco: charge declined")

// Client charges card tokens against the Yoco charges endpoint.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
}

// NewClient builds a Yoco client. timeout bounds the full charge round trip.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
	}
}

type chargeRequest struct {
	Token       string `json:"token"`
	AmountCents int    `json:"amountInCents"`
	Currency    string `json:"currency"`
}

type chargeResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	DisplayError string `json:"displayMessage"`
}

// Charge attempts an online charge and returns the provider charge id. Each
// call carries a fresh idempotency key so a provider-side retry cannot charge
// the card twice.
func (c *Client) Charge(ctx context.Context, token string, amountInCents int) (string, error) {
	if c.secretKey == "" {
		return "", errors.New("yoco: secret key not configured")
	}
	if amountInCents <= 0 {
		return "", fmt.Errorf("yoco: amount must be positive, got %d", amountInCents)
	}

	body, err := json.Marshal(chargeRequest{
		Token:       token,
		AmountCents: amountInCents,
		Currency:    "ZAR",
	})
	if err != nil {
		return "", fmt.Errorf("yoco: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("yoco: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Secret-Key", c.secretKey)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("yoco: charge request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var payload chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("yoco: decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s", ErrDeclined, declineMessage(payload, resp.StatusCode))
	}
	if payload.Status != "successful" {
		return "", fmt.Errorf("%w: %s", ErrDeclined, declineMessage(payload, resp.StatusCode))
	}
	return payload.ID, nil
}

func declineMessage(payload chargeResponse, status int) string {
	if payload.DisplayError != "" {
		return payload.DisplayError
	}
	if payload.ErrorMessage != "" {
		return payload.ErrorMessage
	}
	return fmt.Sprintf("provider returned status %d", status)
}
