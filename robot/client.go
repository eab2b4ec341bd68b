// Package robot is the HTTP and WebSocket client for the robot's control API.
package robot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

type Client struct {
	mu         sync.RWMutex
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// BaseURL returns the client's base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Reconfigure updates the client's base URL and timeout for hot-reload.
func (c *Client) Reconfigure(baseURL string, timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = baseURL
	c.httpClient.Timeout = timeout
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("robot marshal: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL()+path, bodyReader)
	if err != nil {
		return fmt.Errorf("robot %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("robot %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	return c.decode(resp, result)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// decode reads the response envelope, checks its code and unpacks data into
// result when result is non-nil.
func (c *Client) decode(resp *http.Response, result any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("robot read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("robot HTTP %d: %s", resp.StatusCode, string(data))
	}
	var env Response
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("robot decode: %w", err)
	}
	if err := checkResponse(&env); err != nil {
		return err
	}
	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("robot decode data: %w", err)
		}
	}
	return nil
}

// checkResponse validates the response envelope code.
func checkResponse(r *Response) error {
	if r.Code != 0 {
		return fmt.Errorf("robot error %d: %s", r.Code, r.Msg)
	}
	return nil
}

// CreateMove starts a point-to-point move and returns its id.
func (c *Client) CreateMove(ctx context.Context, req *MoveRequest) (string, error) {
	var out MoveCreated
	if err := c.post(ctx, "/api/v2/moves", req, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("robot create move: empty id")
	}
	return out.ID, nil
}

func (c *Client) CancelMove(ctx context.Context) error {
	return c.post(ctx, "/api/v2/moves/cancel", struct{}{}, nil)
}

func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.get(ctx, "/api/v2/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) StartMapping(ctx context.Context, name string) error {
	return c.post(ctx, "/api/v2/mapping/start", &MappingStartRequest{Name: name}, nil)
}

func (c *Client) FinishMapping(ctx context.Context, save bool) (*MappingResult, error) {
	var out MappingResult
	if err := c.post(ctx, "/api/v2/mapping/finish", &MappingFinishRequest{Save: save}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Jack(ctx context.Context, action string) error {
	if action != JackUp && action != JackDown {
		return fmt.Errorf("robot jack: invalid action %q", action)
	}
	return c.post(ctx, "/api/v2/jack", &JackRequest{Action: action}, nil)
}

func (c *Client) Record(ctx context.Context, durationS int) (string, error) {
	var out RecordResult
	if err := c.post(ctx, "/api/v2/camera/record", &RecordRequest{DurationS: durationS}, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) UpdateSystem(ctx context.Context, version string) (*UpdateResult, error) {
	var out UpdateResult
	if err := c.post(ctx, "/api/v2/system/update", &UpdateRequest{Version: version}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
