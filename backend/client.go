// Package backend is the HTTP client for the assistant platform's REST API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wa-console/types"
	"wa-console/utils"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every backend call
const DefaultTimeout = 30 * time.Second

const maxErrorBody = 4096

// Client talks to the platform backend
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  zerolog.Logger
	metrics *clientMetrics
	stats   *utils.RequestStats
	reg     prometheus.Registerer
}

// Option configures a Client
type Option func(*Client)

// WithToken sets the bearer token sent with every request
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithHTTPClient replaces the underlying http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout overrides DefaultTimeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRegisterer registers request metrics on reg instead of a private registry
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.reg = reg }
}

// WithStats shares request stats with the local dashboard
func WithStats(s *utils.RequestStats) Option {
	return func(c *Client) { c.stats = s }
}

// New creates a client for the backend at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := ParseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  zerolog.Nop(),
		stats:   utils.NewRequestStats(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reg == nil {
		c.reg = prometheus.NewRegistry()
	}
	c.metrics = newClientMetrics(c.reg)
	return c, nil
}

// ParseBaseURL validates an http(s) base URL and strips trailing slashes
func ParseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	if raw == "" {
		return nil, errors.New("backend base url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid backend base url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend base url %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("backend base url %q has no host", raw)
	}
	return u, nil
}

// BaseURL returns the normalized base URL
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Token returns the configured bearer token
func (c *Client) Token() string { return c.token }

// Stats returns the request stats
func (c *Client) Stats() *utils.RequestStats { return c.stats }

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.TrimRight(c.baseURL.String(), "/") + "/" + strings.Join(escaped, "/")
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindValidation, Op: op, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return &Error{Kind: KindServer, Op: op, Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(op, "network", time.Since(start), true, isTimeout(err))
		c.logger.Debug().Err(err).Str("op", op).Str("request_id", requestID).Msg("backend request failed")
		return transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := readErrorMessage(resp.Body)
		kind := classifyStatus(resp.StatusCode, message)
		c.observe(op, kind.String(), time.Since(start), true, false)
		c.logger.Debug().
			Str("op", op).
			Str("request_id", requestID).
			Int("status", resp.StatusCode).
			Str("message", message).
			Msg("backend returned error")
		return &Error{Kind: kind, Op: op, StatusCode: resp.StatusCode, Message: message}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			c.observe(op, "decode", time.Since(start), true, false)
			return &Error{Kind: KindServer, Op: op, StatusCode: resp.StatusCode, Message: "invalid response body", Err: err}
		}
	}
	c.observe(op, "ok", time.Since(start), false, false)
	return nil
}

func (c *Client) observe(op, outcome string, latency time.Duration, failed, timedOut bool) {
	c.metrics.requests.WithLabelValues(op, outcome).Inc()
	c.metrics.duration.WithLabelValues(op).Observe(latency.Seconds())
	c.stats.Record(latency, failed, timedOut)
}

// readErrorMessage extracts detail/error/message from an error body, falling back to the raw text
func readErrorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var parsed struct {
		Detail  json.RawMessage `json:"detail"`
		Error   string          `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return string(raw)
	}
	if len(parsed.Detail) > 0 {
		var s string
		if json.Unmarshal(parsed.Detail, &s) == nil {
			return s
		}
		return string(parsed.Detail)
	}
	if parsed.Error != "" {
		return parsed.Error
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	return string(raw)
}

// Landing resolves a public slug to its client record
func (c *Client) Landing(ctx context.Context, slug string) (types.ClientRecord, error) {
	var rec types.ClientRecord
	err := c.do(ctx, "landing", http.MethodGet, c.endpoint("client", slug, "landing"), nil, &rec)
	return rec, err
}

// Status returns the WhatsApp connection status of a client
func (c *Client) Status(ctx context.Context, clientID string) (types.StatusResponse, error) {
	var st types.StatusResponse
	err := c.do(ctx, "status", http.MethodGet, c.endpoint("client", clientID, "status"), nil, &st)
	return st, err
}

// QR fetches the pairing QR. A body carrying an error field is reported as a failure.
func (c *Client) QR(ctx context.Context, clientID string) (types.QRResult, error) {
	var res types.QRResult
	if err := c.do(ctx, "qr", http.MethodGet, c.endpoint("client", clientID, "qr"), nil, &res); err != nil {
		return res, err
	}
	if res.Error != nil && strings.TrimSpace(*res.Error) != "" {
		msg := strings.TrimSpace(*res.Error)
		return res, &Error{Kind: classifyStatus(http.StatusOK, msg), Op: "qr", Message: msg}
	}
	return res, nil
}

// Toggle connects or disconnects a client's WhatsApp session
func (c *Client) Toggle(ctx context.Context, clientID string, action types.ToggleAction) error {
	body := map[string]string{"action": string(action)}
	return c.do(ctx, "toggle", http.MethodPost, c.endpoint("admin", "clients", clientID, "toggle"), body, nil)
}

// ListClients returns every client
func (c *Client) ListClients(ctx context.Context) ([]types.ClientRecord, error) {
	var list []types.ClientRecord
	err := c.do(ctx, "list_clients", http.MethodGet, c.endpoint("admin", "clients"), nil, &list)
	return list, err
}

// GetClient returns one client by id
func (c *Client) GetClient(ctx context.Context, clientID string) (types.ClientRecord, error) {
	var rec types.ClientRecord
	err := c.do(ctx, "get_client", http.MethodGet, c.endpoint("admin", "clients", clientID), nil, &rec)
	return rec, err
}

// CreateClient registers a new client
func (c *Client) CreateClient(ctx context.Context, form types.CreateClientForm) (types.ClientRecord, error) {
	var rec types.ClientRecord
	err := c.do(ctx, "create_client", http.MethodPost, c.endpoint("admin", "clients"), form, &rec)
	return rec, err
}

// UpdateClient changes client fields
func (c *Client) UpdateClient(ctx context.Context, clientID string, update types.ClientUpdate) (types.ClientRecord, error) {
	var rec types.ClientRecord
	err := c.do(ctx, "update_client", http.MethodPut, c.endpoint("admin", "clients", clientID), update, &rec)
	return rec, err
}

// DeleteClient removes a client and stops its session
func (c *Client) DeleteClient(ctx context.Context, clientID string) error {
	return c.do(ctx, "delete_client", http.MethodDelete, c.endpoint("admin", "clients", clientID), nil, nil)
}

// UpdateEmail changes a client's contact email
func (c *Client) UpdateEmail(ctx context.Context, clientID, email string) error {
	body := map[string]string{"new_email": email}
	return c.do(ctx, "update_email", http.MethodPut, c.endpoint("admin", "clients", clientID, "email"), body, nil)
}

// ResendEmail re-sends the invitation email
func (c *Client) ResendEmail(ctx context.Context, clientID string) error {
	return c.do(ctx, "resend_email", http.MethodPost, c.endpoint("admin", "clients", clientID, "resend-email"), nil, nil)
}

// Chats returns stored messages of a client
func (c *Client) Chats(ctx context.Context, clientID string) ([]types.ChatMessage, error) {
	var msgs []types.ChatMessage
	err := c.do(ctx, "chats", http.MethodGet, c.endpoint("admin", "chats", clientID), nil, &msgs)
	return msgs, err
}

// Threads returns assistant threads of a client
func (c *Client) Threads(ctx context.Context, clientID string) ([]types.Thread, error) {
	var threads []types.Thread
	err := c.do(ctx, "threads", http.MethodGet, c.endpoint("admin", "clients", clientID, "threads"), nil, &threads)
	return threads, err
}

// AdminStatus returns the status as seen from the admin endpoint
func (c *Client) AdminStatus(ctx context.Context, clientID string) (types.StatusResponse, error) {
	var st types.StatusResponse
	err := c.do(ctx, "admin_status", http.MethodGet, c.endpoint("admin", "clients", clientID, "status"), nil, &st)
	return st, err
}

// LandingURL returns the public landing page address of a slug
func LandingURL(publicBase, slug string) string {
	return strings.TrimRight(publicBase, "/") + "/client/" + url.PathEscape(slug)
}
