package taskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ztkuaikuai/round-cast-app/internal/conv"
)

// Request is the conversation fetch payload. Context carries every turn the
// client currently holds; the service appends to it.
type Request struct {
	TaskID  string      `json:"task_id"`
	Topic   string      `json:"topic"`
	Context []conv.Turn `json:"context"`
}

// Response is the shared response shape of the conversation and history
// endpoints.
type Response struct {
	TaskID  string      `json:"task_id"`
	Status  conv.Status `json:"status"`
	Context []conv.Turn `json:"context"`
}

type historyRequest struct {
	TaskID string `json:"task_id"`
}

// NetworkError is a connectivity or non-2xx failure talking to the task
// service. Cooperative cancellation is never reported as a NetworkError; it
// surfaces as the context's own error.
type NetworkError struct {
	Op     string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("task service %s: status=%d", e.Op, e.Status)
	}
	return fmt.Sprintf("task service %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Client talks to the round-table task service over HTTP/JSON.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

func NewClient(baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		BaseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Conversation issues one poll cycle: the current turn list goes up, the
// updated turn list and status come back.
func (c *Client) Conversation(ctx context.Context, req Request) (*Response, error) {
	return c.post(ctx, "conversation", "/task/conversation", req)
}

// History fetches the persisted turns for a task, used once at task entry
// before polling begins.
func (c *Client) History(ctx context.Context, taskID string) (*Response, error) {
	return c.post(ctx, "history", "/task/history", historyRequest{TaskID: taskID})
}

func (c *Client) post(ctx context.Context, op, path string, body any) (*Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s request", op)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrapf(err, "build %s request", op)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Cancellation must stay distinguishable from connectivity failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &NetworkError{Op: op, Status: resp.StatusCode}
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &NetworkError{Op: op, Err: errors.Wrap(err, "decode response")}
	}
	return &out, nil
}
