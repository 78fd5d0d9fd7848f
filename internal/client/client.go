package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/your-org/attendance/internal/auth"
	"github.com/your-org/attendance/pkg/dto"
)

// Client calls the attendance API on behalf of a kiosk.
type Client struct {
	http *resty.Client
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	if apiKey != "" {
		c.SetHeader(auth.HeaderName, apiKey)
	}
	return &Client{http: c}
}

func (c *Client) Enroll(ctx context.Context, req dto.EnrollRequest) (*dto.EnrollResponse, error) {
	var out dto.EnrollResponse
	if err := c.post(ctx, "/v1/enroll", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Identify(ctx context.Context, req dto.IdentifyRequest) (*dto.IdentifyResponse, error) {
	var out dto.IdentifyResponse
	if err := c.post(ctx, "/v1/identify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var apiErr errorBody
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(out).
		SetError(&apiErr).
		Post(path)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = apiErr.Message
		}
		if msg == "" {
			msg = resp.Status()
		}
		return &APIError{Status: resp.StatusCode(), Message: msg}
	}
	return nil
}
