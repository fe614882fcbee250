package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Client is the HTTP transport to the vendor cloud. It holds no state beyond
// the connection settings.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new cloud client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Close closes idle connections
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("%s/%s", c.baseURL, path)
}

func (c *Client) request(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}

// RoomsByUser returns the raw room listing of the account
func (c *Client) RoomsByUser(ctx context.Context) ([]byte, error) {
	resp, err := c.request(ctx, http.MethodGet, "group/roomsByUser", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rooms response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status code listing rooms: %d", resp.StatusCode)
	}

	return body, nil
}

// StartRoomMode starts a mode on the device's room. The response body is not
// interpreted beyond the status code.
func (c *Client) StartRoomMode(ctx context.Context, cmd ModeCommand) error {
	bodyBytes, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	resp, err := c.request(ctx, http.MethodPost, "mode/roomModeStart", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to start room mode: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("failed to start room mode: status %d: %s", resp.StatusCode, string(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	log.Debug().
		Str("group", cmd.GroupID).
		Str("mode", cmd.ModeID).
		Int("brightness", cmd.Brightness).
		Msg("Room mode started")

	return nil
}
