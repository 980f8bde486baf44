// Package lobbyapi is the HTTP client for the remote lobby service. It
// translates well-known service error codes into the lobby package's
// sentinel errors so callers can branch with errors.Is.
package lobbyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pulsefit/groupsync/go/internal/lobby"
)

const defaultTimeout = 30 * time.Second

// Client talks to the lobby service REST API.
type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: defaultTimeout,
		},
		headers: make(map[string]string),
	}
}

// SetHeader sets a header sent with every request, typically the
// bearer token and the acting user ID.
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// SetTimeout overrides the per-request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// errorBody is the service's error envelope.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError is a non-2xx response from the lobby service. Unwrap maps
// well-known codes onto lobby sentinel errors.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("lobby service returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("lobby service returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "lobby_not_found":
		return lobby.ErrLobbyNotFound
	case "already_member":
		return lobby.ErrAlreadyMember
	case "already_in_lobby":
		return lobby.ErrAlreadyInLobby
	case "not_initiator":
		return lobby.ErrNotInitiator
	case "not_enough_members":
		return lobby.ErrNotEnoughMembers
	case "not_all_ready":
		return lobby.ErrNotAllReady
	case "workout_not_ready":
		return lobby.ErrWorkoutNotReady
	}
	return nil
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(responseBody)}
		var eb errorBody
		if json.Unmarshal(responseBody, &eb) == nil && eb.Error.Code != "" {
			apiErr.Code = eb.Error.Code
			apiErr.Message = eb.Error.Message
		}
		return nil, apiErr
	}

	return responseBody, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	data, err := c.makeRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return decode(data, out)
}

func (c *Client) post(ctx context.Context, endpoint string, payload, out any) error {
	data, err := c.makeRequest(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return err
	}
	return decode(data, out)
}

func (c *Client) put(ctx context.Context, endpoint string, payload any) error {
	_, err := c.makeRequest(ctx, http.MethodPut, endpoint, payload)
	return err
}

func (c *Client) delete(ctx context.Context, endpoint string) error {
	_, err := c.makeRequest(ctx, http.MethodDelete, endpoint, nil)
	return err
}

func decode(data []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
