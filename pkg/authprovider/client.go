/**
 * @description
 * This package provides a client for the external auth provider's admin API. The core
 * service uses it with the elevated service credential to provision and delete principals.
 */
package authprovider

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
)

var (
	ErrUserExists    = errors.New("auth provider user already exists")
	ErrUserNotFound  = errors.New("auth provider user not found")
	ErrNotConfigured = errors.New("auth provider client is not configured")
)

// Client is a client for the auth provider admin API.
type Client struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewClient creates a new auth provider admin client.
func NewClient(baseURL string, serviceKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		serviceKey: strings.TrimSpace(serviceKey),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateUserRequest defines the request payload for provisioning a principal.
type CreateUserRequest struct {
	Email        string            `json:"email"`
	Password     string            `json:"password"`
	EmailConfirm bool              `json:"email_confirm"`
	UserMetadata map[string]string `json:"user_metadata,omitempty"`
}

// User is the provider's representation of a principal.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ErrorResponse captures the error fields the provider may return.
type ErrorResponse struct {
	Code    interface{} `json:"code,omitempty"`
	Message string      `json:"msg,omitempty"`
	Error   string      `json:"error,omitempty"`
	Detail  string      `json:"error_description,omitempty"`
}

func (e ErrorResponse) text() string {
	for _, candidate := range []string{e.Message, e.Detail, e.Error} {
		if strings.TrimSpace(candidate) != "" {
			return candidate
		}
	}
	return ""
}

// CreateUser provisions a confirmed principal and returns its provider id.
func (c *Client) CreateUser(ctx context.Context, email, password, fullName string) (*User, error) {
	payload := CreateUserRequest{
		Email:        email,
		Password:     password,
		EmailConfirm: true,
		UserMetadata: map[string]string{"full_name": fullName},
	}

	var user User
	status, err := c.do(ctx, http.MethodPost, "/admin/users", payload, &user)
	if err != nil {
		if status == http.StatusConflict || status == http.StatusUnprocessableEntity {
			return nil, fmt.Errorf("%w: %v", ErrUserExists, err)
		}
		return nil, err
	}
	if strings.TrimSpace(user.ID) == "" {
		return nil, fmt.Errorf("auth provider returned no user id")
	}
	return &user, nil
}

// DeleteUser removes a principal. A missing principal yields ErrUserNotFound.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	status, err := c.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(userID), nil, nil)
	if err != nil {
		if status == http.StatusNotFound {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) (int, error) {
	if c == nil || c.baseURL == "" || c.serviceKey == "" {
		return 0, ErrNotConfigured
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request to auth provider: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read auth provider response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.text() != "" {
			return resp.StatusCode, fmt.Errorf("auth provider returned status %d: %s", resp.StatusCode, errResp.text())
		}
		return resp.StatusCode, fmt.Errorf("auth provider returned status %d", resp.StatusCode)
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
