// Package client talks to the panel server's JSON API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/denniswebb/iptpanel/internal/api"
	"github.com/denniswebb/iptpanel/internal/iptables"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 10 * 1024 * 1024
)

// Client is an API client bound to one server address.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// New returns a Client for address. A bare host:port gets an http:// scheme.
// A nil httpClient uses a client with a 30 second timeout.
func New(address string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("client: server address is required")
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	if _, err := url.Parse(address); err != nil {
		return nil, fmt.Errorf("client: parse server address: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(address, "/"),
		logger:     logger.With(slog.String("component", "client")),
	}, nil
}

// BaseURL returns the server URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// List returns the raw listing lines of table/chain.
func (c *Client) List(ctx context.Context, table string, chain string) ([]string, error) {
	query := url.Values{}
	query.Set("table", table)
	query.Set("chain", chain)

	var resp api.ListResponse
	if err := c.do(ctx, http.MethodGet, "/iptables?"+query.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Rules == nil {
		resp.Rules = []string{}
	}
	return resp.Rules, nil
}

// Add appends a structured rule and returns the server's message.
func (c *Client) Add(ctx context.Context, spec iptables.AddSpec) (string, error) {
	req := api.AddRequest{
		Table:    spec.Table,
		Chain:    spec.Chain,
		Protocol: spec.Protocol,
		SrcIP:    spec.SrcIP,
		DestIP:   spec.DestIP,
		SrcPort:  api.Scalar(spec.SrcPort),
		DestPort: api.Scalar(spec.DestPort),
		Action:   spec.Action,
	}
	return c.post(ctx, "/iptables/add", req)
}

// Delete removes rule number spec.Index and returns the server's message.
func (c *Client) Delete(ctx context.Context, spec iptables.DeleteSpec) (string, error) {
	req := api.DeleteRequest{
		Table: spec.Table,
		Chain: spec.Chain,
		Index: api.Scalar(strconv.Itoa(spec.Index)),
	}
	return c.post(ctx, "/iptables/delete", req)
}

// AddRaw sends a free-form rule and returns the server's message.
func (c *Client) AddRaw(ctx context.Context, spec iptables.RawSpec) (string, error) {
	return c.post(ctx, "/iptables/add-raw", api.RawRequest{Rule: spec.Rule, Table: spec.Table})
}

func (c *Client) post(ctx context.Context, path string, body any) (string, error) {
	var resp api.MessageResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// do sends one request and decodes a 2xx JSON answer into result.
// Cancellation of ctx is returned as ctx.Err() so that callers can match
// context.Canceled directly.
func (c *Client) do(ctx context.Context, method string, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set(api.RequestIDHeader, requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api response",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", requestID),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp)
	}
	if result == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(result); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
