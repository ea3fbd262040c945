package bemfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nerrad567/bemfa-bridge/internal/device"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/config"
)

const (
	defaultHTTPTimeout = 10 * time.Second

	// maxResponseBytes bounds the device-list body.
	maxResponseBytes = 4 << 20

	// deviceListType selects the MQTT device list on the alltopic endpoint.
	deviceListType = "1"
)

// Device is one entry of the device-list response.
type Device struct {
	Topic string `json:"topic"`
	Name  string `json:"name"`
	Msg   string `json:"msg"`
}

// listResponse is the device-list envelope. code 0 means success.
type listResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message,omitempty"`
	Data    []Device `json:"data"`
}

// Client calls the Bemfa HTTP API.
//
// Thread Safety: safe for concurrent use; it holds no mutable state.
type Client struct {
	apiURL string
	apiKey string
	http   *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates an API client from the bemfa config section.
//
// Parameters:
//   - cfg: API URL, key and request timeout in seconds (0 selects the default)
//   - opts: optional overrides such as WithHTTPClient
//
// Returns:
//   - *Client: safe for concurrent use
func NewClient(cfg config.BemfaConfig, opts ...ClientOption) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	c := &Client{
		apiURL: cfg.APIURL,
		apiKey: cfg.APIKey,
		http:   &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListDevices fetches every topic on the account.
//
// Returns:
//   - []Device: Topics in the order the API returned them
//   - error: ErrRefreshFailed wrapping the transport, status, decode or
//     API error
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	resp, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("%w: api code %d", ErrRefreshFailed, resp.Code)
	}
	return resp.Data, nil
}

// ValidateKey checks the API key against the device-list endpoint.
//
// Returns:
//   - error: nil for a valid key, ErrInvalidAPIKey when the API answers with
//     a non-zero code, ErrRefreshFailed when the API cannot be reached
func (c *Client) ValidateKey(ctx context.Context) error {
	resp, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("%w: api code %d", ErrInvalidAPIKey, resp.Code)
	}
	return nil
}

func (c *Client) fetch(ctx context.Context) (*listResponse, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing api url: %w", ErrRefreshFailed, err)
	}
	q := u.Query()
	q.Set("uid", c.apiKey)
	q.Set("type", deviceListType)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %w", ErrRefreshFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, redactURLError(err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrRefreshFailed, httpResp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrRefreshFailed, err)
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %w", ErrRefreshFailed, err)
	}
	return &resp, nil
}

// redactURLError strips the query string (which carries the key) from
// transport errors before they reach logs.
func redactURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return &url.Error{Op: ue.Op, URL: stripQuery(ue.URL), Err: ue.Err}
	}
	return err
}

func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<redacted>"
	}
	u.RawQuery = ""
	return u.String()
}

// Records classifies a device list into table records. Unclassifiable topics
// are dropped; every record starts online.
func Records(devices []Device) []device.Record {
	out := make([]device.Record, 0, len(devices))
	for _, d := range devices {
		t, ok := Classify(d.Topic)
		if !ok {
			continue
		}
		out = append(out, device.Record{
			Topic:    d.Topic,
			Name:     d.Name,
			Type:     t,
			RawState: d.Msg,
			Online:   true,
		})
	}
	return out
}
