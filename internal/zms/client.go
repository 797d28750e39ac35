package zms

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
)

// Client is a thin REST client for the controller's monitor API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the given base URL using bearer-token auth.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// GetMonitor fetches the elaborated monitor record.
func (c *Client) GetMonitor(ctx context.Context, monitorID string) (Monitor, error) {
	var m Monitor
	err := c.do(ctx, http.MethodGet, "/monitors/"+monitorID+"?elaborate=true", nil, &m)
	return m, err
}

// UpdateMonitorStateOpStatus sends a heartbeat and returns the new monitor
// state, which carries the next status_ack_by deadline.
func (c *Client) UpdateMonitorStateOpStatus(ctx context.Context, monitorID string, body UpdateOpStatus) (MonitorState, error) {
	var st MonitorState
	err := c.do(ctx, http.MethodPut, "/monitors/"+monitorID+"/state/op-status", body, &st)
	return st, err
}

// CreateSubscription registers a server-side event subscription.
func (c *Client) CreateSubscription(ctx context.Context, sub Subscription) error {
	return c.do(ctx, http.MethodPost, "/subscriptions", sub, nil)
}

// DeleteSubscription removes a server-side event subscription.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/subscriptions/"+id, nil, nil)
}

// EventsURL derives the websocket endpoint for a subscription from the REST
// base URL (http becomes ws, https becomes wss).
func (c *Client) EventsURL(subscriptionID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/subscriptions/" + subscriptionID + "/events"
	return u.String(), nil
}

// Token returns the API token, used as the websocket auth header.
func (c *Client) Token() string { return c.token }

// do sends a JSON request and decodes a JSON response into dst when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(b))
		if msg != "" {
			return fmt.Errorf("HTTP %s: %s", resp.Status, msg)
		}
		return fmt.Errorf("HTTP %s from %s", resp.Status, path)
	}

	if dst == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
