// Package garmin holds the per-region API client: one authenticated HTTP
// channel to one vendor deployment. Two regions never share a session.
package garmin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/fitsync/internal/config"
	"github.com/dmitrijs2005/fitsync/internal/logging"
)

// Response carries the status, the decoded body (JSON value, raw string, or
// bytes) and the response headers of one API call.
type Response struct {
	StatusCode int
	Data       any
	Bytes      []byte
	Header     http.Header
}

// API is the region-client surface the orchestrator depends on.
type API interface {
	Login(ctx context.Context) error
	GetJSON(ctx context.Context, path string, params map[string]any) (*Response, error)
	GetBytes(ctx context.Context, path string) (*Response, error)
	PostFile(ctx context.Context, path, filename string, content []byte) (*Response, error)
	SetHeader(key, value string)
}

// LoginAgent obtains a session cookie header (and optionally a CSRF token)
// for interactive_login auth. The browser-driven implementation lives in
// internal/browserlogin.
type LoginAgent interface {
	Login(ctx context.Context, baseURL string, auth config.AuthConfig) (cookieHeader, csrfToken string, err error)
}

// Client talks to one region over net/http with a private cookie jar.
type Client struct {
	baseURL string
	auth    config.AuthConfig
	http    *http.Client
	headers http.Header
	agent   LoginAgent
	log     logging.Logger
}

// New builds an unauthenticated client for the region. headers are attached
// to every request. agent may be nil for session_cookie auth.
func New(baseURL string, auth config.AuthConfig, headers map[string]string, agent LoginAgent, log logging.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		http:    &http.Client{Jar: jar, Timeout: 60 * time.Second},
		headers: h,
		agent:   agent,
		log:     log,
	}, nil
}

// Login establishes the session according to the auth descriptor.
func (c *Client) Login(ctx context.Context) error {
	switch c.auth.Type {
	case config.AuthSessionCookie:
		if c.auth.Cookie == "" {
			return ErrMissingCookie
		}
		return c.applyCookieHeader(c.auth.Cookie)

	case config.AuthInteractiveLogin:
		if c.auth.Username == "" || c.auth.Password == "" {
			return ErrMissingCredentials
		}
		if c.agent == nil {
			return fmt.Errorf("interactive_login configured but no login agent available")
		}
		cookieHeader, csrfToken, err := c.agent.Login(ctx, c.baseURL, c.auth)
		if err != nil {
			return fmt.Errorf("interactive login: %w", err)
		}
		if err := c.applyCookieHeader(cookieHeader); err != nil {
			return err
		}
		if csrfToken != "" {
			c.headers.Set("connect-csrf-token", csrfToken)
		}
		return nil
	}
	return fmt.Errorf("unsupported auth type %q", c.auth.Type)
}

// SetHeader pins a header on all subsequent requests from this client.
func (c *Client) SetHeader(key, value string) {
	c.headers.Set(key, value)
}

// GetJSON issues an authenticated GET and decodes the body as JSON, falling
// back to the raw text when the body is not valid JSON.
func (c *Client) GetJSON(ctx context.Context, path string, params map[string]any) (*Response, error) {
	u := c.url(path)
	if len(params) > 0 {
		q := url.Values{}
		for k, v := range params {
			q.Set(k, fmt.Sprint(v))
		}
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + q.Encode()
	}

	resp, body, err := c.do(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Data:       decodeLoose(body),
		Bytes:      body,
		Header:     resp.Header,
	}, nil
}

// GetBytes issues an authenticated GET returning the raw body.
func (c *Client) GetBytes(ctx context.Context, path string) (*Response, error) {
	resp, body, err := c.do(ctx, http.MethodGet, c.url(path), "", nil)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Bytes: body, Header: resp.Header}, nil
}

// PostFile uploads content as a single multipart file field named "file".
// Non-2xx responses surface as *StatusError; the 409 special case is the
// caller's business.
func (c *Client) PostFile(ctx context.Context, path, filename string, content []byte) (*Response, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}

	u := c.url(path)
	resp, body, doErr := c.do(ctx, http.MethodPost, u, w.FormDataContentType(), buf.Bytes())

	if c.headers.Get("X-Debug-Upload") == "1" {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		var se *StatusError
		is409 := errors.As(doErr, &se) && se.StatusCode == http.StatusConflict
		if !is409 {
			c.log.Info("upload attempt", "url", u, "filename", filename, "size", len(content), "status", status)
		}
	}

	if doErr != nil {
		return nil, doErr
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Data:       decodeLoose(body),
		Bytes:      body,
		Header:     resp.Header,
	}, nil
}

func (c *Client) do(ctx context.Context, method, rawURL, contentType string, body []byte) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, data, &StatusError{StatusCode: resp.StatusCode, URL: rawURL, Status: resp.Status}
	}
	return resp, data, nil
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

// applyCookieHeader loads a literal "name=value; name=value" header into the
// jar, scoped to the region host at path /.
func (c *Client) applyCookieHeader(cookieHeader string) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	var cookies []*http.Cookie
	for _, pair := range strings.Split(cookieHeader, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, found := strings.Cut(pair, "=")
		if !found || name == "" {
			continue
		}
		cookies = append(cookies, &http.Cookie{Name: name, Value: value, Path: "/"})
	}
	c.http.Jar.SetCookies(&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, cookies)

	names := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		names = append(names, ck.Name)
	}
	c.log.Debug("session cookies applied", "host", u.Host, "cookies", names)
	return nil
}

// decodeLoose parses body as JSON, falling back to the raw text.
func decodeLoose(body []byte) any {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}
