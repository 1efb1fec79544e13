// Package apiclient is a small HTTP client for the admin API, used by the
// CLI's client subcommands.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hospadmin/hospadmin/internal/domain/complaint"
	"github.com/hospadmin/hospadmin/internal/domain/feedback"
)

type Options struct {
	BaseURL string
	Timeout time.Duration
	// Retries applies to transport failures only.
	Retries int
}

// Envelope mirrors the server's response body.
type Envelope struct {
	Success    bool            `json:"success"`
	Message    string          `json:"message"`
	Count      *int            `json:"count"`
	FeedbackID *int64          `json:"feedback_id"`
	Data       json.RawMessage `json:"data"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Status)
	}
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
}

type Client struct {
	http *resty.Client
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	c := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")
	if opts.Retries > 0 {
		c.SetRetryCount(opts.Retries).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(3 * time.Second)
	}
	return &Client{http: c}
}

// Health reports the server and database status as returned by /health/db.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).SetError(&out).Get("/health/db")
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	if resp.IsError() {
		msg, _ := out["message"].(string)
		return out, &APIError{Status: resp.StatusCode(), Message: msg}
	}
	return out, nil
}

func (c *Client) ListComplaints(ctx context.Context) ([]complaint.Complaint, error) {
	var items []complaint.Complaint
	if _, err := c.do(ctx, resty.MethodGet, "/complaints/getComplaint", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) ListFeedback(ctx context.Context) ([]feedback.Feedback, error) {
	var items []feedback.Feedback
	if _, err := c.do(ctx, resty.MethodGet, "/feedback/getFeedback", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) FeedbackSummary(ctx context.Context) (*feedback.Summary, error) {
	var sum feedback.Summary
	if _, err := c.do(ctx, resty.MethodGet, "/feedback/summary", nil, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// SubmitFeedback posts body to /feedback/postFeedback and returns the new id.
func (c *Client) SubmitFeedback(ctx context.Context, body interface{}) (int64, error) {
	env, err := c.do(ctx, resty.MethodPost, "/feedback/postFeedback", body, nil)
	if err != nil {
		return 0, err
	}
	if env.FeedbackID == nil {
		return 0, fmt.Errorf("api: response carries no feedback_id")
	}
	return *env.FeedbackID, nil
}

func (c *Client) DeleteFeedback(ctx context.Context, id int64) error {
	_, err := c.do(ctx, resty.MethodDelete, fmt.Sprintf("/feedback/deleteFeedback/%d", id), nil, nil)
	return err
}

// do sends the request and decodes the envelope's data into dst when dst is
// not nil.
func (c *Client) do(ctx context.Context, method, path string, body, dst interface{}) (*Envelope, error) {
	var env Envelope
	req := c.http.R().SetContext(ctx).SetResult(&env).SetError(&env)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() || !env.Success {
		return &env, &APIError{Status: resp.StatusCode(), Message: env.Message}
	}
	if dst != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, dst); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return &env, nil
}
