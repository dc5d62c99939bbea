package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// RequestOption mutates an outgoing request, typically to add headers or auth.
type RequestOption func(*http.Request)

func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func WithBasicAuth(user, password string) RequestOption {
	return func(r *http.Request) { r.SetBasicAuth(user, password) }
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
	}
}

// Timeout is the per-call bound applied by the *WithTimeout helpers.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// Do sends payload as JSON (nil payload sends no body) and returns the raw response.
func (c *Client) Do(ctx context.Context, method, url string, payload interface{}, opts ...RequestOption) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		reqBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(reqBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	return c.httpClient.Do(req)
}

func (c *Client) PostJSON(ctx context.Context, url string, payload interface{}, opts ...RequestOption) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, url, payload, opts...)
}

func (c *Client) PutJSON(ctx context.Context, url string, payload interface{}, opts ...RequestOption) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, url, payload, opts...)
}

func (c *Client) PatchJSON(ctx context.Context, url string, payload interface{}, opts ...RequestOption) (*http.Response, error) {
	return c.Do(ctx, http.MethodPatch, url, payload, opts...)
}

func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, opts...)
}

func (c *Client) PostJSONWithTimeout(url string, payload interface{}, timeout time.Duration, opts ...RequestOption) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := c.PostJSON(ctx, url, payload, opts...)
	if err != nil {
		return nil, err
	}
	// The body must stay readable after cancel, so buffer it.
	return bufferBody(resp)
}

func (c *Client) IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (c *Client) DecodeJSONResponse(resp *http.Response, v interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

// StatusError is returned by ExpectStatus for unexpected response codes.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d: %s", e.StatusCode, e.Body)
}

// ExpectStatus closes the body and returns a StatusError unless the code is one of ok.
func ExpectStatus(resp *http.Response, ok ...int) error {
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
}

func bufferBody(resp *http.Response) (*http.Response, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(b))
	return resp, nil
}
