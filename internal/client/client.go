// Package client talks to the keystone HTTP API and provides the capabilities
// chatsync needs: auth, the chat/profile store, completions and avatar
// storage.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/suPer8Hu/keystone/internal/chatsync"
)

var errSignedOut = errors.New("client: not signed in")

var (
	_ chatsync.Store         = (*Client)(nil)
	_ chatsync.Auth          = (*Client)(nil)
	_ chatsync.Completer     = (*Client)(nil)
	_ chatsync.ChatCompleter = (*Client)(nil)
	_ chatsync.ObjectStorage = (*Client)(nil)
)

type Client struct {
	baseURL string
	http    *http.Client

	async        bool
	pollInterval time.Duration
	newKey       func() string

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithAsyncCompletion sends completions through the job queue and polls for
// the result every interval.
func WithAsyncCompletion(interval time.Duration) Option {
	return func(c *Client) {
		c.async = true
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		http:         &http.Client{Timeout: 2 * time.Minute},
		pollInterval: 500 * time.Millisecond,
		newKey:       newIdempotencyKey,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(t string) {
	c.mu.Lock()
	c.token = t
	c.mu.Unlock()
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type request struct {
	method  string
	path    string
	body    io.Reader
	ctype   string
	headers map[string]string
	auth    bool
}

func jsonRequest(method, path string, body any, auth bool) (request, error) {
	r := request{method: method, path: path, auth: auth}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return r, err
		}
		r.body = bytes.NewReader(b)
		r.ctype = "application/json"
	}
	return r, nil
}

// send performs r and returns the raw 2xx body, or a *chatsync.RemoteError.
func (c *Client) send(ctx context.Context, r request) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return nil, err
	}
	if r.ctype != "" {
		req.Header.Set("Content-Type", r.ctype)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if r.auth {
		tok := c.Token()
		if tok == "" {
			return nil, errSignedOut
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, remoteError(resp.StatusCode, raw)
	}
	return raw, nil
}

func remoteError(status int, raw []byte) error {
	re := &chatsync.RemoteError{Status: status}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" {
		re.Code = env.Code
		re.Message = env.Message
	} else {
		re.Message = strings.TrimSpace(string(raw))
		if re.Message == "" {
			re.Message = http.StatusText(status)
		}
	}
	switch status {
	case http.StatusNotFound:
		re.Err = chatsync.ErrNotFound
	case http.StatusConflict:
		re.Err = chatsync.ErrConflict
	}
	return re
}

// call sends a JSON request and decodes the envelope's data into out.
func call[T any](ctx context.Context, c *Client, method, path string, body any, auth bool) (T, error) {
	var out T
	r, err := jsonRequest(method, path, body, auth)
	if err != nil {
		return out, err
	}
	raw, err := c.send(ctx, r)
	if err != nil {
		return out, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return out, fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return out, fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return out, nil
}
