package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	adminUsersPath = "/auth/v1/admin/users"
	contentType    = "application/json"
)

// Client is an HTTP client for a GoTrue-style admin user API. Requests carry
// the service-role key as a bearer token.
type Client struct {
	baseURL    string
	serviceKey string
	logger     *zap.Logger
	HTTPClient *http.Client
}

// NewClient creates an identity client for the given service base URL.
func NewClient(baseURL, serviceKey string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		logger:     logger,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type createUserRequest struct {
	Email        string         `json:"email"`
	Password     string         `json:"password"`
	EmailConfirm bool           `json:"email_confirm"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type listUsersResponse struct {
	Users []userResponse `json:"users"`
}

// Create registers a new identity with an auto-confirmed email and the given
// temporary password. Returns ErrAlreadyExists when the email is taken.
func (c *Client) Create(ctx context.Context, email string, metadata map[string]any, tempPassword string) (*Identity, error) {
	payload := createUserRequest{
		Email:        email,
		Password:     tempPassword,
		EmailConfirm: true,
		UserMetadata: metadata,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal create user request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+adminUsersPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.request(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusUnprocessableEntity:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, email)
	default:
		return nil, badStatus(resp)
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode create user response: %w", err)
	}

	c.logger.Debug("identity created", zap.String("user_id", user.ID))

	return &Identity{ID: user.ID, Email: user.Email}, nil
}

// FindByEmail looks up an identity by email. Returns (nil, nil) when absent.
func (c *Client) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+adminUsersPath, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	q := url.Values{}
	q.Set("filter", email)
	req.URL.RawQuery = q.Encode()

	resp, err := c.request(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, badStatus(resp)
	}

	var list listUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode list users response: %w", err)
	}

	for _, user := range list.Users {
		if user.Email == email {
			return &Identity{ID: user.ID, Email: user.Email}, nil
		}
	}

	return nil, nil
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request", zap.String("url", req.URL.String()), zap.String("method", req.Method))
	return c.HTTPClient.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceKey))
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Content-Type", contentType)
}

func badStatus(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("identity service: bad status %s: %s", resp.Status, snippet)
}
