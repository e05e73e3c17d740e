package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNotFound is returned when the server answers 404: no current result yet, or
// an unknown history key.
var ErrNotFound = errors.New("not found")

// Client talks to a testboard server over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string // server root including any base path, e.g. http://host:5000/board
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:5000",
		Timeout: 10 * time.Second,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: config.Timeout},
	}
}

// IsReachable checks if the server is running and answering API requests.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.History(ctx)
	if err != nil {
		c.logger.Debug("server unreachable", "error", err)
	}
	return err == nil
}

func (c *Client) Data(ctx context.Context) (*Data, error) {
	var d Data
	if err := c.getJSON(ctx, "/api/data", &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Current returns the newest result summary.
func (c *Client) Current(ctx context.Context) (*Report, error) {
	var r Report
	if err := c.getJSON(ctx, "/api/current", &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// History returns every archived summary, oldest first.
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	var out []HistoryEntry
	if err := c.getJSON(ctx, "/api/history", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HistoryEntry returns one archived summary. key may be YYYYMMDD_HHMMSS or
// "YYYY-MM-DD HH:MM:SS".
func (c *Client) HistoryEntry(ctx context.Context, key string) (*Report, error) {
	var r Report
	if err := c.getJSON(ctx, "/api/history/"+url.PathEscape(key), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Watch opens the websocket stream and delivers changes until ctx ends or the
// server closes the stream. The channel is closed on return of the reader.
func (c *Client) Watch(ctx context.Context) (<-chan Change, error) {
	wsURL, err := c.wsURL("/api/ws")
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	out := make(chan Change)
	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-finished:
		}
		_ = conn.Close()
	}()
	go func() {
		defer close(out)
		defer close(finished)
		for {
			var ch Change
			if err := conn.ReadJSON(&ch); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Warn("watch stream ended", "error", err)
				}
				return
			}
			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) wsURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, errorResp.Error)
	}
	return fmt.Errorf("API error (HTTP %d): %s", resp.StatusCode, errorResp.Error)
}
