// Package fundsmover provides the funds mover implementations: an HTTP client for the
// external payment rail and a paper mover that only records transfers.
package fundsmover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FenadoAI/autopilot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxErrorBody caps how much of an error response we read
const maxErrorBody = 4096

// reverseRequest is the body of a reversal call
type reverseRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// errorResponse is the rail's error envelope
type errorResponse struct {
	Error string `json:"error"`
}

// Client talks to the payment rail over HTTP
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a new funds mover client.
// Per-call deadlines come from the caller's context.
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With().Str("component", "fundsmover").Logger(),
	}
}

// Move transfers funds
func (c *Client) Move(ctx context.Context, req domain.TransferRequest) (domain.TransferReceipt, error) {
	var receipt domain.TransferReceipt
	if err := c.do(ctx, "/transfers", req, &receipt); err != nil {
		return domain.TransferReceipt{}, err
	}
	if receipt.Reference == "" {
		return domain.TransferReceipt{}, fmt.Errorf("funds mover returned no transfer reference")
	}

	c.log.Info().
		Str("execution_id", req.ExecutionID).
		Str("reference", receipt.Reference).
		Str("amount", req.Amount.StringFixed(2)).
		Msg("Transfer settled")

	return receipt, nil
}

// Reverse refunds amount for a previously moved execution
func (c *Client) Reverse(ctx context.Context, executionID string, amount decimal.Decimal) error {
	path := "/transfers/" + url.PathEscape(executionID) + "/reverse"
	if err := c.do(ctx, path, reverseRequest{Amount: amount}, nil); err != nil {
		return err
	}

	c.log.Info().
		Str("execution_id", executionID).
		Str("amount", amount.StringFixed(2)).
		Msg("Transfer reversed")
	return nil
}

func (c *Client) do(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.log.Debug().Str("path", path).Msg("Calling funds mover")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("funds mover request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var envelope errorResponse
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			return fmt.Errorf("funds mover rejected request: %s", envelope.Error)
		}
		return fmt.Errorf("funds mover error: status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
