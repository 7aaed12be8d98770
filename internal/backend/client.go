package backend

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

	"ureka/internal/config"
)

var (
	// ErrTransport wraps failures to reach the backend at all.
	ErrTransport = errors.New("backend unreachable")
	// ErrValidation marks input rejected before any request was made.
	ErrValidation = errors.New("invalid request")
)

// APIError is a 4xx/5xx answer from the backend.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Client talks to the remote analytics backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a client from the backend configuration.
func New(cfg config.BackendConfig) *Client {
	return NewClient(cfg.BaseURL(), cfg.Timeout())
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the REST root requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Bind returns a client that replays the given backend cookie.
func (c *Client) Bind(cookie string) *UserClient {
	return &UserClient{client: c, cookie: cookie}
}

// UserClient carries one user's backend cookie. Set-Cookie answers are merged
// into it by name.
type UserClient struct {
	client *Client

	mu       sync.RWMutex
	cookie   string
	onChange func(ctx context.Context, cookie string)
}

func (u *UserClient) Cookie() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.cookie
}

func (u *UserClient) SetCookie(cookie string) {
	u.mu.Lock()
	u.cookie = cookie
	u.mu.Unlock()
}

// OnCookieChange registers fn to run after a backend answer changed the cookie.
func (u *UserClient) OnCookieChange(fn func(ctx context.Context, cookie string)) {
	u.mu.Lock()
	u.onChange = fn
	u.mu.Unlock()
}

type request struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	cookie      string
}

func jsonRequest(method, path string, payload any) (request, error) {
	req := request{method: method, path: path}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return req, fmt.Errorf("marshal request: %w", err)
		}
		req.body = bytes.NewReader(data)
		req.contentType = "application/json"
	}
	return req, nil
}

// do sends the request and decodes a JSON answer into out. It returns the
// cookies the backend set.
func (c *Client) do(ctx context.Context, r request, out any) ([]*http.Cookie, error) {
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, r.body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if r.cookie != "" {
		req.Header.Set("Cookie", r.cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrTransport, r.method, r.path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &APIError{Status: resp.StatusCode, Detail: errorDetail(resp.StatusCode, body)}
	}
	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", r.path, err)
		}
	}
	return resp.Cookies(), nil
}

func (u *UserClient) do(ctx context.Context, r request, out any) error {
	r.cookie = u.Cookie()
	set, err := u.client.do(ctx, r, out)
	if err != nil || len(set) == 0 {
		return err
	}
	u.mu.Lock()
	merged := mergeCookies(u.cookie, set)
	changed := merged != u.cookie
	u.cookie = merged
	fn := u.onChange
	u.mu.Unlock()
	if changed && fn != nil {
		fn(ctx, merged)
	}
	return nil
}

func errorDetail(status int, body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, raw := range []json.RawMessage{payload.Detail, payload.Error} {
			if len(raw) == 0 || string(raw) == "null" {
				continue
			}
			var s string
			if json.Unmarshal(raw, &s) == nil {
				return s
			}
			return string(raw)
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		return text
	}
	return http.StatusText(status)
}

// mergeCookies applies Set-Cookie answers to a Cookie header by name. Expired
// cookies are dropped; untouched ones keep their place.
func mergeCookies(current string, set []*http.Cookie) string {
	type pair struct{ name, value string }
	var pairs []pair
	for _, part := range strings.Split(current, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		pairs = append(pairs, pair{name, value})
	}
	now := time.Now()
	for _, ck := range set {
		expired := ck.MaxAge < 0 || (!ck.Expires.IsZero() && ck.Expires.Before(now))
		idx := -1
		for i, p := range pairs {
			if p.name == ck.Name {
				idx = i
				break
			}
		}
		switch {
		case expired && idx >= 0:
			pairs = append(pairs[:idx], pairs[idx+1:]...)
		case expired:
		case idx >= 0:
			pairs[idx].value = ck.Value
		default:
			pairs = append(pairs, pair{ck.Name, ck.Value})
		}
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.name+"="+p.value)
	}
	return strings.Join(parts, "; ")
}
