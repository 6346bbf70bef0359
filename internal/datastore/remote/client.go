// Package remote is a data store client for the service's HTTP data API.
// Change notifications arrive over a websocket.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/preston-bernstein/livescore-service/internal/datastore"
)

// Config controls how the client reaches the server.
type Config struct {
	BaseURL           string
	Token             string
	HTTPClient        *http.Client
	Dialer            *websocket.Dialer
	Logger            *slog.Logger
	Buffer            int
	ReadTimeout       time.Duration
	ReconnectAttempts int
	ReconnectBackoff  time.Duration
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements datastore.Store against a remote server.
type Client struct {
	baseURL    string
	httpClient httpDoer
	dialer     *websocket.Dialer
	logger     *slog.Logger
	buffer     int

	readTimeout       time.Duration
	reconnectAttempts uint64
	reconnectBackoff  time.Duration

	mu    sync.RWMutex
	token string
}

var _ datastore.Store = (*Client)(nil)

// NewClient constructs a client with the provided configuration.
func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:           strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:        cfg.HTTPClient,
		dialer:            cfg.Dialer,
		logger:            cfg.Logger,
		buffer:            cfg.Buffer,
		readTimeout:       cfg.ReadTimeout,
		reconnectAttempts: defaultReconnects,
		reconnectBackoff:  cfg.ReconnectBackoff,
		token:             cfg.Token,
	}
	if cfg.HTTPClient == nil {
		c.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.readTimeout <= 0 {
		c.readTimeout = defaultReadTimeout
	}
	if cfg.ReconnectAttempts > 0 {
		c.reconnectAttempts = uint64(cfg.ReconnectAttempts)
	}
	if c.reconnectBackoff <= 0 {
		c.reconnectBackoff = defaultBackoff
	}
	return c
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) authHeader() http.Header {
	h := http.Header{}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) FetchOne(ctx context.Context, table, id string) (datastore.Record, error) {
	if err := datastore.CheckTable(table); err != nil {
		return nil, err
	}
	var rec datastore.Record
	if err := c.do(ctx, http.MethodGet, tablePath(table, id), nil, nil, &rec); err != nil {
		return nil, fmt.Errorf("%s %s: %w", table, id, err)
	}
	return rec, nil
}

func (c *Client) FetchMany(ctx context.Context, table string, q datastore.Query) ([]datastore.Record, error) {
	if err := datastore.CheckTable(table); err != nil {
		return nil, err
	}
	var recs []datastore.Record
	if err := c.do(ctx, http.MethodGet, tablePath(table, ""), datastore.EncodeQuery(q), nil, &recs); err != nil {
		return nil, fmt.Errorf("%s: %w", table, err)
	}
	return recs, nil
}

func (c *Client) Update(ctx context.Context, table, id string, fields datastore.Record) error {
	if err := datastore.CheckTable(table); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPatch, tablePath(table, id), nil, fields, nil); err != nil {
		return fmt.Errorf("%s %s: %w", table, id, err)
	}
	return nil
}

func (c *Client) Insert(ctx context.Context, table string, fields datastore.Record) (datastore.Record, error) {
	if err := datastore.CheckTable(table); err != nil {
		return nil, err
	}
	var rec datastore.Record
	if err := c.do(ctx, http.MethodPost, tablePath(table, ""), nil, fields, &rec); err != nil {
		return nil, fmt.Errorf("%s: %w", table, err)
	}
	return rec, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode body: %v", datastore.ErrInvalidInput, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if len(query) > 0 {
		req.URL.RawQuery = query.Encode()
	}
	req.Header = c.authHeader()
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", datastore.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", datastore.ErrUnavailable, err)
	}
	return nil
}

func tablePath(table, id string) string {
	if id == "" {
		return apiPrefix + "/" + url.PathEscape(table)
	}
	return apiPrefix + "/" + url.PathEscape(table) + "/" + url.PathEscape(id)
}
