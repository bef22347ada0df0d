// Package client talks to a running scout daemon over its HTTP surface.
package client

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

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/scout/internal/tasks"
)

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scout: HTTP %d: %s", e.StatusCode, e.Message)
}

// Result mirrors GET /result/{id}.
type Result struct {
	Status string        `json:"status"`
	Output *tasks.Result `json:"output,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Terminal reports whether the task has finished.
func (r Result) Terminal() bool {
	return r.Status == string(tasks.StateCompleted) || r.Status == string(tasks.StateFailed)
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

// New returns a client for the daemon at baseURL. token may be empty.
func New(baseURL, token string) *Client {
	return &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit posts a query and returns the new task id.
func (c *Client) Submit(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(map[string]string{"input": query})
	if err != nil {
		return "", err
	}
	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/invoke", body, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// Events returns the task's log as currently recorded.
func (c *Client) Events(ctx context.Context, id string) ([]tasks.Event, error) {
	var out []tasks.Event
	if err := c.do(ctx, http.MethodGet, "/events/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Result returns the task's outcome.
func (c *Client) Result(ctx context.Context, id string) (Result, error) {
	var out Result
	err := c.do(ctx, http.MethodGet, "/result/"+url.PathEscape(id), nil, &out)
	return out, err
}

// Health returns the decoded /health document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// Stream delivers the task's events to fn over the WebSocket stream until
// the terminal event. fn runs on the calling goroutine.
func (c *Client) Stream(ctx context.Context, id string, fn func(tasks.Event)) error {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/tasks/" + url.PathEscape(id) + "/stream"
	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}
	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.CloseNow()

	for {
		var ev tasks.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		fn(ev)
		if ev.Type.Terminal() {
			return nil
		}
	}
}

// Wait polls the task's log until it ends, handing each new event to fn,
// then returns the outcome. Polling backs off exponentially up to maxWait.
func (c *Client) Wait(ctx context.Context, id string, maxWait time.Duration, fn func(tasks.Event)) (Result, error) {
	seen := 0
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	if maxWait > 0 {
		b.MaxInterval = maxWait
	}

	return backoff.Retry(ctx, func() (Result, error) {
		evs, err := c.Events(ctx, id)
		if err != nil {
			return Result{}, backoff.Permanent(err)
		}
		for ; seen < len(evs); seen++ {
			if fn != nil {
				fn(evs[seen])
			}
		}
		res, err := c.Result(ctx, id)
		if err != nil {
			return Result{}, backoff.Permanent(err)
		}
		if !res.Terminal() {
			return Result{}, errStillRunning
		}
		return res, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(0))
}

var errStillRunning = errors.New("task still running")

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
