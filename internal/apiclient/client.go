package apiclient

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

	"github.com/tphummel/laundry_scan/internal/models"
)

// Client is an HTTP client for the laundry_scan REST API. It satisfies
// scanner.Backend when constructed with a user token.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewClient creates a Client targeting endpoint with Bearer token auth.
func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StatusError is returned for an unexpected response status.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
}

func statusError(op string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body) //nolint:errcheck
	return &StatusError{Op: op, Code: resp.StatusCode, Message: body.Error}
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// MachineByQRCode resolves a scanned payload to its machine. A 404 is
// reported as models.ErrMachineNotFound.
func (c *Client) MachineByQRCode(ctx context.Context, payload string) (*models.Machine, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/machines/lookup?qr_code="+url.QueryEscape(payload), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, models.ErrMachineNotFound
	default:
		return nil, statusError("lookup machine", resp)
	}
	var out models.Machine
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("lookup machine: decode: %w", err)
	}
	return &out, nil
}

// StartLaundryOrder calls the start_laundry_order RPC. A 404 maps to
// models.ErrMachineNotFound and a 409 to models.ErrMachineUnavailable.
func (c *Client) StartLaundryOrder(ctx context.Context, machineID, serviceType string) (*models.Order, error) {
	body := map[string]string{
		"p_machine_id":   machineID,
		"p_service_type": serviceType,
	}
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/rpc/start_laundry_order", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusCreated:
	case http.StatusNotFound:
		return nil, models.ErrMachineNotFound
	case http.StatusConflict:
		return nil, models.ErrMachineUnavailable
	default:
		return nil, statusError("start laundry order", resp)
	}
	var out models.Order
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("start laundry order: decode: %w", err)
	}
	return &out, nil
}

// ListOrders returns the caller's orders, newest first.
func (c *Client) ListOrders(ctx context.Context) ([]models.Order, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/orders", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list orders", resp)
	}
	var out []models.Order
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("list orders: decode: %w", err)
	}
	return out, nil
}

// MachineQRCode downloads the PNG rendering of a machine's QR code.
// Requires the operator token.
func (c *Client) MachineQRCode(ctx context.Context, machineID string, size int) ([]byte, error) {
	path := "/api/v1/machines/" + url.PathEscape(machineID) + "/qr.png"
	if size > 0 {
		path += fmt.Sprintf("?size=%d", size)
	}
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, models.ErrMachineNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("machine qr code", resp)
	}
	return io.ReadAll(resp.Body)
}
