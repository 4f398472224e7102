// Package client talks to the classifier HTTP API.
package client

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"gender-classifier/internal/api"

	"github.com/go-resty/resty/v2"
)

type Client struct {
	base string
	rest *resty.Client
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(30 * time.Second)
	}
	r.SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			// only idempotent reads are retried
			if resp == nil || resp.Request == nil || resp.Request.Method != "GET" {
				return false
			}
			return err != nil || resp.StatusCode() >= 500
		})
	return &Client{base: base, rest: r}
}

// Predict uploads an image and returns the predicted label.
func (c *Client) Predict(ctx context.Context, filename string, image []byte) (*api.PredictResponse, error) {
	out := &api.PredictResponse{}
	req := c.rest.R().
		SetContext(ctx).
		SetFileReader("image", filepath.Base(filename), bytes.NewReader(image)).
		SetResult(out)
	if err := c.do(req, "POST", "/api/predict"); err != nil {
		return nil, err
	}
	return out, nil
}

// Feedback submits the correct label for an image. prediction may be empty.
func (c *Client) Feedback(ctx context.Context, filename string, image []byte, correctGender, prediction string) (*api.FeedbackResponse, error) {
	fields := map[string]string{"correctGender": correctGender}
	if prediction != "" {
		fields["prediction"] = prediction
	}

	out := &api.FeedbackResponse{}
	req := c.rest.R().
		SetContext(ctx).
		SetFileReader("image", filepath.Base(filename), bytes.NewReader(image)).
		SetMultipartFormData(fields).
		SetResult(out)
	if err := c.do(req, "POST", "/api/feedback"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	out := &api.StatsResponse{}
	if err := c.do(c.rest.R().SetContext(ctx).SetResult(out), "GET", "/api/stats"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	out := &api.HealthResponse{}
	if err := c.do(c.rest.R().SetContext(ctx).SetResult(out), "GET", "/api/health"); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveModel asks the server to checkpoint the model.
func (c *Client) SaveModel(ctx context.Context) (*api.SaveResponse, error) {
	out := &api.SaveResponse{}
	if err := c.do(c.rest.R().SetContext(ctx).SetResult(out), "POST", "/api/save-model"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Checkpoints(ctx context.Context) (*api.CheckpointsResponse, error) {
	out := &api.CheckpointsResponse{}
	if err := c.do(c.rest.R().SetContext(ctx).SetResult(out), "GET", "/api/checkpoints"); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(req *resty.Request, method, path string) error {
	apiErr := &api.ErrorResponse{}
	resp, err := req.SetError(apiErr).Execute(method, c.base+path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = resp.String()
		}
		return &APIError{Status: resp.StatusCode(), Message: msg}
	}
	return nil
}
