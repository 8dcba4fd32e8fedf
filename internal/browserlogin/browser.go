// Package browserlogin automates the vendor's SSO web login to obtain a
// session cookie header and, when available, a CSRF token.
//
// The login pipeline is written against the narrow Browser interface below,
// which isolates it from the concrete automation backend (playwright.go) and
// lets tests drive it with a fake.
package browserlogin

import "time"

// Cookie mirrors one browser cookie. The JSON shape doubles as the on-disk
// cookie-cache format, so the field names must stay stable.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// LoginResponse is a captured background response from the SSO login API.
type LoginResponse struct {
	Status int
	URL    string
	Data   map[string]any
}

// APIResult is the outcome of a context-level HTTP request issued outside
// the page (used for ticket redemption and the direct login fallback).
type APIResult struct {
	Status int
	Body   []byte
}

// OK reports a 2xx status.
func (r *APIResult) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Browser is the capability surface the login pipeline needs. Every call is
// a single attempt; polling and timeouts live in the pipeline so they stay
// explicit and bounded.
type Browser interface {
	// Navigate opens url and returns once the DOM is ready. It must not
	// wait for network quiescence.
	Navigate(url string) error

	// WaitForNetworkIdle waits up to timeout for the network to go quiet.
	// Returns false on timeout; timing out is not an error.
	WaitForNetworkIdle(timeout time.Duration) bool

	// WaitForURLPrefix waits up to timeout for the page URL to start with
	// prefix. Returns false on timeout.
	WaitForURLPrefix(prefix string, timeout time.Duration) bool

	// URL returns the current page URL.
	URL() string

	// Title returns the current page title, or "" when unavailable.
	Title() string

	// Content returns the current page HTML.
	Content() (string, error)

	// EvaluateString runs a script in the page and returns its string
	// result ("" when the script yields null).
	EvaluateString(script string) (string, error)

	// FindAny scans the page and all frames once for the first selector
	// with a match and returns it.
	FindAny(selectors ...string) (string, bool)

	// Fill writes value into the first element matching selector, searching
	// the page and then its frames.
	Fill(selector, value string) error

	// Click clicks the first element matching selector, searching the page
	// and then its frames.
	Click(selector string) error

	// InnerText returns the trimmed text of the first match of selector on
	// the page, and whether a match exists.
	InnerText(selector string) (string, bool)

	// Cookies returns the cookies scoped to the given URLs (all cookies
	// when none are given).
	Cookies(urls ...string) ([]Cookie, error)

	// AddCookies seeds cookies into the browser context.
	AddCookies(cookies []Cookie) error

	// SetExtraHTTPHeaders attaches headers to subsequent page requests.
	SetExtraHTTPHeaders(headers map[string]string) error

	// LoginResponse returns the most recently captured SSO login API
	// response, if any arrived yet.
	LoginResponse() (*LoginResponse, bool)

	// Get issues a context-level GET sharing the browser's cookies.
	Get(url string) (*APIResult, error)

	// Post issues a context-level POST sharing the browser's cookies.
	Post(url string, headers map[string]string, body []byte) (*APIResult, error)

	// Screenshot writes a full-page screenshot to path.
	Screenshot(path string) error

	// Close tears the browser down.
	Close() error
}

// BrowserOptions configure a concrete Browser.
type BrowserOptions struct {
	Headless        bool
	Locale          string
	UserAgent       string
	AcceptLanguage  string
	LoginAPIPattern string
	Debug           bool
}
