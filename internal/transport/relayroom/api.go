// Package relayroom implements the federated chat-room relay transport.
// Each peer pair shares a room on a relay node; a long-poll sync loop pulls
// new room events, filters self-authored ones, decrypts and delivers them.
package relayroom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// apiClient speaks the room relay HTTP contract: login, room creation,
// invite/join, event send and a cursor-based long-poll sync endpoint.
type apiClient struct {
	base  string
	http  *http.Client
	token string
}

// newAPIClient builds a client for a node given as a bare host or a full
// URL. Bare hosts default to https.
func newAPIClient(server string) *apiClient {
	base := server
	if !strings.Contains(server, "://") {
		base = "https://" + server
	}
	return &apiClient{
		base: base,
		http: &http.Client{Timeout: 45 * time.Second},
	}
}

type loginResponse struct {
	Token string `json:"token"`
}

type createRoomResponse struct {
	RoomID string `json:"room_id"`
}

type roomEvent struct {
	RoomID    string `json:"room_id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp int64  `json:"origin_server_ts"`
}

type syncResponse struct {
	NextBatch string      `json:"next_batch"`
	Events    []roomEvent `json:"events"`
	Invites   []string    `json:"invites"`
}

// statusError reports a non-2xx relay response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.code, e.body)
}

func (e *statusError) forbidden() bool { return e.code == http.StatusForbidden }

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode, body: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}

// probe checks whether the node answers the versions endpoint.
func (c *apiClient) probe(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/_relay/client/versions", nil, nil)
}

func (c *apiClient) login(ctx context.Context, user, password, deviceID string) error {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/_relay/client/login", map[string]string{
		"user":      user,
		"password":  password,
		"device_id": deviceID,
	}, &resp)
	if err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

func (c *apiClient) createRoom(ctx context.Context, invite []string) (string, error) {
	var resp createRoomResponse
	err := c.do(ctx, http.MethodPost, "/_relay/client/rooms", map[string]any{
		"invite":    invite,
		"is_direct": true,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (c *apiClient) joinRoom(ctx context.Context, roomID string) error {
	path := "/_relay/client/rooms/" + url.PathEscape(roomID) + "/join"
	return c.do(ctx, http.MethodPost, path, map[string]string{}, nil)
}

func (c *apiClient) sendEvent(ctx context.Context, roomID, content string) error {
	path := "/_relay/client/rooms/" + url.PathEscape(roomID) + "/send"
	return c.do(ctx, http.MethodPost, path, map[string]string{"content": content}, nil)
}

func (c *apiClient) sync(ctx context.Context, since string, timeout time.Duration) (*syncResponse, error) {
	q := url.Values{}
	if since != "" {
		q.Set("since", since)
	}
	q.Set("timeout_ms", strconv.FormatInt(timeout.Milliseconds(), 10))

	var resp syncResponse
	if err := c.do(ctx, http.MethodGet, "/_relay/client/sync?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
