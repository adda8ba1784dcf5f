package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

// ErrorDecoder maps a non-2xx response to an error. The decoder owns the
// response body. The default decoder produces a *StatusError carrying a
// bounded copy of the body.
type ErrorDecoder func(service string, resp *http.Response) error

// StatusError is the default error for a non-2xx response.
type StatusError struct {
	Service    string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Service, e.StatusCode, e.Body)
}

// maxErrorBody bounds how much of an error response body is retained.
const maxErrorBody = 8 << 10

// DefaultErrorDecoder builds a *StatusError from the response.
func DefaultErrorDecoder(service string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	return &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Body:       bytes.TrimSpace(body),
	}
}

// Client is a typed JSON contract over one service.
//
//	orders := dispatch.NewClient(d, "orders",
//	    dispatch.WithPathPrefix("/api/v1"),
//	)
//	var item Item
//	err := orders.Get(ctx, "/items/42", &item)
//
// Requests carry JSON bodies, responses decode into the caller's value, and
// non-2xx responses become errors through the service's error decoder. A
// not-found response under decode404AsEmpty leaves the output value at its
// zero state and returns nil.
type Client struct {
	doer    Doer
	service string
	prefix  string
}

// OptionsSource resolves per-service options. *Dispatcher implements it;
// decorators like *Breaker delegate to the dispatcher they wrap.
type OptionsSource interface {
	ServiceOptions(service string) Options
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPathPrefix prepends a path prefix to every request path.
func WithPathPrefix(prefix string) ClientOption {
	return func(c *Client) { c.prefix = cleanPath(prefix) }
}

// NewClient creates a typed client for one service. The Doer is usually a
// *Dispatcher, possibly wrapped in a *Breaker.
func NewClient(d Doer, service string, opts ...ClientOption) *Client {
	c := &Client{doer: d, service: service}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Call(ctx, http.MethodGet, path, nil, out)
}

// Post performs a POST with a JSON body and decodes the response into out.
// Either may be nil.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	return c.Call(ctx, http.MethodPost, path, in, out)
}

// Put performs a PUT with a JSON body and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, in, out any) error {
	return c.Call(ctx, http.MethodPut, path, in, out)
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Call(ctx, http.MethodDelete, path, nil, nil)
}

// Call performs a request with the given method. The in value, when non-nil,
// is marshaled as the JSON request body; the response body, when out is
// non-nil and the response has one, is decoded into out.
func (c *Client) Call(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	opts := c.serviceOptions()
	if resp.StatusCode == http.StatusNotFound && opts.Decode404 {
		return nil
	}
	if resp.StatusCode >= 400 {
		decoder := opts.ErrorDecoder
		if decoder == nil {
			decoder = DefaultErrorDecoder
		}
		return decoder(c.service, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || resp.Body == http.NoBody {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.service, err)
	}
	return nil
}

func (c *Client) serviceOptions() Options {
	if src, ok := c.doer.(OptionsSource); ok {
		return src.ServiceOptions(c.service)
	}
	return defaultOptions()
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var query string
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i+1:]
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	logical := &url.URL{
		Scheme:   "http",
		Host:     c.service,
		Path:     c.prefix + path,
		RawQuery: query,
	}

	var body io.Reader
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", c.service, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, logical.String(), body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
