package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	paymentgatewaytypes "github.com/frahmantamala/roomshare/internal/core/datamodel/paymentgateway"
)

var ErrNotConfigured = errors.New("payment gateway secret key is not configured")

// APIError is returned when the gateway answered but refused the request,
// either with a non-2xx status or with status:false in the body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Message)
}

// Rejected reports whether the gateway refused on business grounds rather than
// failing to process the request.
func (e *APIError) Rejected() bool {
	return e.StatusCode < http.StatusInternalServerError
}

type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		secretKey:  config.SecretKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) Configured() bool {
	return c.secretKey != ""
}

// InitializeTransaction requests a hosted checkout session.
func (c *Client) InitializeTransaction(ctx context.Context, req *paymentgatewaytypes.InitializeRequest) (*paymentgatewaytypes.InitializeData, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal initialize request: %w", err)
	}

	c.logger.Info("initializing gateway transaction",
		"reference", req.Reference,
		"amount_minor", req.Amount,
		"currency", req.Currency)

	var resp paymentgatewaytypes.InitializeResponse
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &resp); err != nil {
		c.logger.Error("gateway initialize failed", "error", err, "reference", req.Reference)
		return nil, err
	}

	if !resp.Status {
		c.logger.Error("gateway rejected initialize", "message", resp.Message, "reference", req.Reference)
		return nil, &APIError{StatusCode: http.StatusOK, Message: resp.Message}
	}

	if resp.Data.AuthorizationURL == "" {
		return nil, &APIError{StatusCode: http.StatusBadGateway, Message: "missing authorization_url"}
	}

	c.logger.Info("gateway transaction initialized",
		"reference", resp.Data.Reference,
		"access_code", resp.Data.AccessCode)

	return &resp.Data, nil
}

// VerifyTransaction fetches the authoritative state of a transaction.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*paymentgatewaytypes.Transaction, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if reference == "" {
		return nil, errors.New("reference is required")
	}

	var resp paymentgatewaytypes.VerifyResponse
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		c.logger.Error("gateway verify failed", "error", err, "reference", reference)
		return nil, err
	}

	if !resp.Status {
		c.logger.Warn("gateway verify unsuccessful", "message", resp.Message, "reference", reference)
		return nil, &APIError{StatusCode: http.StatusOK, Message: resp.Message}
	}

	c.logger.Info("gateway transaction verified",
		"reference", reference,
		"status", resp.Data.Status,
		"transaction_id", resp.Data.ID)

	return &resp.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Message string `json:"message"`
		}
		message := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Message != "" {
			message = envelope.Message
		}
		return &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
