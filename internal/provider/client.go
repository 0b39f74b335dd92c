package provider

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
	"strconv"
	"strings"
	"time"

	"smm-store/internal/metrics"
)

const (
	defaultBaseURL  = "https://bdclick24.com/api/v2"
	formContentType = "application/x-www-form-urlencoded"
)

var (
	// ErrMissingAPIKey means the client was built without an upstream key.
	ErrMissingAPIKey = errors.New("smm panel api key is not configured")
	// ErrInvalidCredential indicates the panel rejected the configured key.
	ErrInvalidCredential = errors.New("smm panel invalid credential")
	// ErrNoOrderID is returned when an add call is acknowledged without an order id.
	ErrNoOrderID = errors.New("smm panel returned no order id")
	// ErrUnexpectedResponse covers bodies that match none of the documented shapes.
	ErrUnexpectedResponse = errors.New("unexpected response from smm panel")
)

// APIError is an explicit {"error": "..."} answer from the panel.
type APIError struct {
	Action  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("smm panel %s error: %s", e.Action, e.Message)
}

// Config holds panel client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to an SMM panel speaking the common v2 form protocol.
type Client struct {
	logger  *slog.Logger
	baseURL string
	apiKey  string
	http    *http.Client
	metrics *metrics.Metrics
}

// New creates a panel client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "provider"),
		baseURL: base,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		http:    &http.Client{Timeout: timeout},
		metrics: metrics,
	}
}

// Services fetches the panel catalog. Rates are per 1000 units in the panel currency.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	body, err := c.postForm(ctx, "services", url.Values{})
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("decode services: %w: %v", ErrUnexpectedResponse, err)
		}
		services := make([]Service, 0, len(entries))
		for _, entry := range entries {
			var svc Service
			if err := json.Unmarshal(entry, &svc); err != nil {
				c.logger.Warn("skipping catalog entry", "error", err)
				continue
			}
			services = append(services, svc)
		}
		return services, nil
	}
	if apiErr := decodeAPIError("services", trimmed); apiErr != nil {
		return nil, apiErr
	}
	return nil, fmt.Errorf("services: %w", ErrUnexpectedResponse)
}

// AddOrderRequest describes a new panel order.
type AddOrderRequest struct {
	Service  int64
	Link     string
	Quantity int64
}

// AddOrderResponse is the panel acknowledgement of a new order.
type AddOrderResponse struct {
	OrderID int64
	Charge  string
}

// AddOrder submits an order. Any answer without an order id is an error.
func (c *Client) AddOrder(ctx context.Context, req AddOrderRequest) (*AddOrderResponse, error) {
	form := url.Values{}
	form.Set("service", strconv.FormatInt(req.Service, 10))
	form.Set("link", req.Link)
	form.Set("quantity", strconv.FormatInt(req.Quantity, 10))

	body, err := c.postForm(ctx, "add", form)
	if err != nil {
		return nil, err
	}
	raw, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("add: %w", err)
	}
	if msg := readStringRaw(raw, "error"); msg != "" {
		return nil, &APIError{Action: "add", Message: msg}
	}
	orderID := readIntRaw(raw, "order")
	if orderID == nil || *orderID == 0 {
		return nil, ErrNoOrderID
	}
	return &AddOrderResponse{
		OrderID: *orderID,
		Charge:  readStringRaw(raw, "charge"),
	}, nil
}

// StatusResponse carries the panel's view of an order.
type StatusResponse struct {
	Status     string
	StartCount *int64
	Remains    *int64
	Charge     string
	Currency   string
	Raw        json.RawMessage
}

// OrderStatus fetches the current state of a panel order.
func (c *Client) OrderStatus(ctx context.Context, orderID int64) (*StatusResponse, error) {
	form := url.Values{}
	form.Set("order", strconv.FormatInt(orderID, 10))

	body, err := c.postForm(ctx, "status", form)
	if err != nil {
		return nil, err
	}
	raw, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	if msg := readStringRaw(raw, "error"); msg != "" {
		return nil, &APIError{Action: "status", Message: msg}
	}
	return &StatusResponse{
		Status:     readStringRaw(raw, "status"),
		StartCount: readIntRaw(raw, "start_count"),
		Remains:    readIntRaw(raw, "remains"),
		Charge:     readStringRaw(raw, "charge"),
		Currency:   readStringRaw(raw, "currency"),
		Raw:        json.RawMessage(bytes.TrimSpace(body)),
	}, nil
}

// BalanceResponse is the reseller account balance held at the panel.
type BalanceResponse struct {
	Balance  string `json:"balance"`
	Currency string `json:"currency"`
}

// Balance fetches the reseller account balance at the panel.
func (c *Client) Balance(ctx context.Context) (*BalanceResponse, error) {
	body, err := c.postForm(ctx, "balance", url.Values{})
	if err != nil {
		return nil, err
	}
	raw, err := decodeObject(body)
	if err != nil {
		return nil, fmt.Errorf("balance: %w", err)
	}
	if msg := readStringRaw(raw, "error"); msg != "" {
		return nil, &APIError{Action: "balance", Message: msg}
	}
	return &BalanceResponse{
		Balance:  readStringRaw(raw, "balance"),
		Currency: readStringRaw(raw, "currency"),
	}, nil
}

func (c *Client) postForm(ctx context.Context, action string, values url.Values) ([]byte, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	values.Set("key", c.apiKey)
	values.Set("action", action)
	return c.do(ctx, action, strings.NewReader(values.Encode()))
}

func (c *Client) do(ctx context.Context, action string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "smm-store/provider-client")

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.observe(action, "error", start)
		return nil, fmt.Errorf("smm panel request: %w", err)
	}
	defer res.Body.Close()
	c.observe(action, strconv.Itoa(res.StatusCode), start)

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 300 {
		return nil, c.classifyHTTPError(action, res.StatusCode, bodyBytes)
	}
	c.logger.Debug("smm panel response", "action", action, "bytes", len(bodyBytes))
	return bodyBytes, nil
}

func (c *Client) observe(action, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.ProviderRequests.WithLabelValues(action, status).Inc()
	c.metrics.ProviderLatency.WithLabelValues(action, status).Observe(time.Since(start).Seconds())
}

func (c *Client) classifyHTTPError(action string, status int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	lower := strings.ToLower(snippet)
	if status == http.StatusUnauthorized ||
		strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "incorrect api key") {
		return fmt.Errorf("%w: %s", ErrInvalidCredential, snippet)
	}
	if apiErr := decodeAPIError(action, bytes.TrimSpace(body)); apiErr != nil {
		return apiErr
	}
	return fmt.Errorf("smm panel %s error: status=%d body=%s", action, status, snippet)
}

func decodeAPIError(action string, body []byte) *APIError {
	raw, err := decodeObject(body)
	if err != nil {
		return nil
	}
	if msg := readStringRaw(raw, "error"); msg != "" {
		return &APIError{Action: action, Message: msg}
	}
	return nil
}

func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrUnexpectedResponse
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	return raw, nil
}
