package sc2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var (
	ErrClientNotRunning  = errors.New("sc2 client is not running")
	ErrBadStatus         = errors.New("unexpected status from sc2 client")
	ErrMalformedSnapshot = errors.New("malformed snapshot")
)

// DefaultBaseURL is where the game client exposes its local API
const DefaultBaseURL = "http://127.0.0.1:6119"

// Client reads the game client's local HTTP API
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for baseURL. The timeout is kept short so a
// closed game shows up as a disconnect on the next cycle.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    NormalizeBaseURL(baseURL),
	}
}

// NormalizeBaseURL forces IPv4 loopback. The game client only listens on
// 127.0.0.1 and "localhost" may resolve to ::1 first.
func NormalizeBaseURL(raw string) string {
	u := strings.TrimSpace(raw)
	if u == "" {
		u = DefaultBaseURL
	}
	switch {
	case strings.Contains(u, "localhost"):
		u = strings.Replace(u, "localhost", "127.0.0.1", 1)
	case strings.Contains(u, "[::1]"):
		u = strings.Replace(u, "[::1]", "127.0.0.1", 1)
	case strings.Contains(u, "::1"):
		u = strings.Replace(u, "::1", "127.0.0.1", 1)
	}
	return strings.TrimRight(u, "/")
}

// BaseURL returns the normalized API root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// get fetches endpoint and decodes the JSON body into v
func (c *Client) get(ctx context.Context, endpoint string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", endpoint, ErrClientNotRunning, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s: %w: %d", endpoint, ErrBadStatus, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: %w: %v", endpoint, ErrMalformedSnapshot, err)
	}
	return nil
}

// GetUI returns the currently active menu screens
func (c *Client) GetUI(ctx context.Context) (*UIState, error) {
	var ui UIState
	if err := c.get(ctx, "/ui", &ui); err != nil {
		return nil, err
	}
	return &ui, nil
}

// GetGame returns the current (or last) game and its players
func (c *Client) GetGame(ctx context.Context) (*GameState, error) {
	var game GameState
	if err := c.get(ctx, "/game", &game); err != nil {
		return nil, err
	}
	for i := range game.Players {
		game.Players[i].normalize()
	}
	return &game, nil
}

// Snapshot fetches /ui then /game. Either failing fails the whole cycle so
// the caller never sees a half snapshot.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	ui, err := c.GetUI(ctx)
	if err != nil {
		return nil, err
	}
	game, err := c.GetGame(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{UI: ui, Game: game, FetchedAt: time.Now()}, nil
}
