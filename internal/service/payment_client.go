package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Authorization is the processor's record of a pending charge.
type Authorization struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

// PaymentProcessor is the external payment collaborator.
type PaymentProcessor interface {
	CreateAuthorization(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Authorization, error)
	CancelAuthorization(ctx context.Context, intentID string) error
	Refund(ctx context.Context, intentID string, amount int64) error
}

// HTTPPaymentClient talks JSON over HTTP to the payment processor.
type HTTPPaymentClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPPaymentClient creates a payment processor client.
func NewHTTPPaymentClient(baseURL, apiKey string) *HTTPPaymentClient {
	return &HTTPPaymentClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: util.GetLogger(),
	}
}

// CreateAuthorization opens a payment authorization for the given amount.
func (c *HTTPPaymentClient) CreateAuthorization(ctx context.Context, amount int64, currency string, metadata map[string]string) (*Authorization, error) {
	body := map[string]interface{}{
		"amount":   amount,
		"currency": currency,
		"metadata": metadata,
	}

	var auth Authorization
	if err := c.post(ctx, "/v1/authorizations", body, &auth); err != nil {
		return nil, err
	}
	if auth.IntentID == "" {
		return nil, fmt.Errorf("processor returned no intent id")
	}

	c.logger.Info("Payment authorization opened",
		zap.String("intent_id", auth.IntentID),
		zap.Int64("amount", amount))
	return &auth, nil
}

// CancelAuthorization voids an open authorization.
func (c *HTTPPaymentClient) CancelAuthorization(ctx context.Context, intentID string) error {
	path := fmt.Sprintf("/v1/authorizations/%s/cancel", intentID)
	return c.post(ctx, path, map[string]interface{}{}, nil)
}

// Refund returns part or all of a captured charge.
func (c *HTTPPaymentClient) Refund(ctx context.Context, intentID string, amount int64) error {
	path := fmt.Sprintf("/v1/authorizations/%s/refund", intentID)
	return c.post(ctx, path, map[string]interface{}{"amount": amount}, nil)
}

func (c *HTTPPaymentClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("processor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("processor returned %d: %s", resp.StatusCode, apiErr.Error)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode processor response: %w", err)
		}
	}
	return nil
}
