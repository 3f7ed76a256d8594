// FILE: src/internal/client/client.go
package client

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"towl/src/internal/version"

	"github.com/valyala/fasthttp"
)

// Options configures a Client. Zero paths fall back to the server defaults.
type Options struct {
	BaseURL string

	// Bearer token, or basic credentials when Username is set
	Token    string
	Username string
	Password string

	Timeout time.Duration

	LogsPath     string
	WatchPath    string
	ArchivesPath string
	StatusPath   string

	// TLSConfig applies to https base URLs
	TLSConfig *tls.Config

	// Dial overrides the network dialer
	Dial fasthttp.DialFunc
}

// Client talks to the query side of a towl server
type Client struct {
	opts   Options
	base   *url.URL
	http   *fasthttp.Client
	dial   fasthttp.DialFunc
	header string
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Message)
}

// New validates the base URL and fills defaults
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:8080"
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must use http or https: %s", opts.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url is missing a host: %s", opts.BaseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.LogsPath == "" {
		opts.LogsPath = "/logs"
	}
	if opts.WatchPath == "" {
		opts.WatchPath = "/watch"
	}
	if opts.ArchivesPath == "" {
		opts.ArchivesPath = "/archives"
	}
	if opts.StatusPath == "" {
		opts.StatusPath = "/status"
	}

	dial := opts.Dial
	if dial == nil {
		dial = fasthttp.Dial
	}

	c := &Client{
		opts: opts,
		base: base,
		dial: dial,
		http: &fasthttp.Client{
			Name:                userAgent(),
			Dial:                dial,
			TLSConfig:           opts.TLSConfig,
			ReadTimeout:         opts.Timeout,
			WriteTimeout:        opts.Timeout,
			MaxIdleConnDuration: 10 * time.Second,
		},
	}

	switch {
	case opts.Username != "":
		creds := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		c.header = "Basic " + creds
	case opts.Token != "":
		c.header = "Bearer " + opts.Token
	}

	return c, nil
}

func userAgent() string {
	return version.UserAgent("towlctl")
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) prepare(req *fasthttp.Request, uri, accept string) {
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", accept)
	if c.header != "" {
		req.Header.Set("Authorization", c.header)
	}
}

// getJSON performs a bounded request and decodes a JSON body into v
func (c *Client) getJSON(ctx context.Context, uri string, v any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	c.prepare(req, uri, "application/json")

	timeout := c.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.http.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return statusError(code, resp.Body())
	}
	if err := json.Unmarshal(resp.Body(), v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// stream holds one connection open for a long-lived response. Cancelling
// ctx closes the connection, unblocking the reader.
func (c *Client) stream(ctx context.Context, uri, accept string, fn func(body io.Reader) error) error {
	var (
		mu   sync.Mutex
		conn net.Conn
	)
	hc := &fasthttp.Client{
		Name:               userAgent(),
		StreamResponseBody: true,
		TLSConfig:          c.opts.TLSConfig,
		WriteTimeout:       c.opts.Timeout,
		Dial: func(addr string) (net.Conn, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			nc, err := c.dial(addr)
			if err != nil {
				return nil, err
			}
			mu.Lock()
			conn = nc
			mu.Unlock()
			return nc, nil
		},
	}

	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
	defer stop()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	c.prepare(req, uri, accept)

	if err := hc.Do(req, resp); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.CloseBodyStream()

	if code := resp.StatusCode(); code < 200 || code >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.BodyStream(), 64*1024))
		return statusError(code, body)
	}

	err := fn(resp.BodyStream())
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func statusError(code int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &StatusError{Code: code, Message: msg}
}
