package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Hundi platform.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // API key, e.g. "sk_..."
}

// HundiClient is a pure HTTP client for the Hundi platform API.
type HundiClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewHundiClient creates a new client for the Hundi platform.
func NewHundiClient(cfg Config) *HundiClient {
	return &HundiClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *HundiClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// BrowseOrders lists open orders on the book, filtered by side and currency.
func (c *HundiClient) BrowseOrders(ctx context.Context, side, currency string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if side != "" {
		q.Set("side", side)
	}
	if currency != "" {
		q.Set("currency", currency)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/orders", q, nil)
}

// GetOrder fetches a single order by ID.
func (c *HundiClient) GetOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/orders/"+orderID, nil, nil)
}

// PlaceOrder submits a new order to the book. The response includes the
// trade if the order matched immediately.
func (c *HundiClient) PlaceOrder(ctx context.Context, side, amountCrypto, amountFiat, fiatCurrency string, paymentMethods []string, minTrustScore int) (json.RawMessage, error) {
	body := map[string]any{
		"side":           side,
		"amountCrypto":   amountCrypto,
		"amountFiat":     amountFiat,
		"fiatCurrency":   fiatCurrency,
		"paymentMethods": paymentMethods,
	}
	if minTrustScore > 0 {
		body["minTrustScore"] = minTrustScore
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/orders", nil, body)
}

// CancelOrder removes an open order from the book.
func (c *HundiClient) CancelOrder(ctx context.Context, orderID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodDelete, "/v1/orders/"+orderID, nil, nil)
}

// ListMyOrders lists the authenticated user's orders.
func (c *HundiClient) ListMyOrders(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/orders/mine", q, nil)
}

// GetTrade fetches a single trade by ID.
func (c *HundiClient) GetTrade(ctx context.Context, tradeID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/trades/"+tradeID, nil, nil)
}

// ListMyTrades lists trades the authenticated user participates in.
func (c *HundiClient) ListMyTrades(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/trades", q, nil)
}

// ConfirmPayment marks the trade's fiat payment as sent (buyer) or
// received (seller). The seller's confirmation releases escrow.
func (c *HundiClient) ConfirmPayment(ctx context.Context, tradeID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/trades/"+tradeID+"/confirm", nil, nil)
}

// CancelTrade cancels a trade before payment is confirmed. Escrow is
// refunded to the seller.
func (c *HundiClient) CancelTrade(ctx context.Context, tradeID, reason string) (json.RawMessage, error) {
	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/trades/"+tradeID+"/cancel", nil, body)
}

// FileDispute opens a dispute on a trade, freezing its escrow.
func (c *HundiClient) FileDispute(ctx context.Context, tradeID, reason string) (json.RawMessage, error) {
	body := map[string]string{"reason": reason}
	return c.doRequest(ctx, http.MethodPost, "/v1/trades/"+tradeID+"/dispute", nil, body)
}

// SendMessage posts a chat message to a trade's conversation.
func (c *HundiClient) SendMessage(ctx context.Context, tradeID, text string) (json.RawMessage, error) {
	body := map[string]any{"body": text}
	return c.doRequest(ctx, http.MethodPost, "/v1/trades/"+tradeID+"/messages", nil, body)
}

// ReadMessages fetches a trade's chat messages after the given sequence number.
func (c *HundiClient) ReadMessages(ctx context.Context, tradeID string, after int64, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if after > 0 {
		q.Set("after", strconv.FormatInt(after, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/trades/"+tradeID+"/messages", q, nil)
}

// GetTrust returns the trust score and tier for a user.
func (c *HundiClient) GetTrust(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/users/"+userID+"/trust", nil, nil)
}
