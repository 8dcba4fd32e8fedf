package browserlogin

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// playwrightBrowser implements Browser on a Chromium instance driven by
// playwright-go. A response listener attached at construction captures the
// SSO login API response as it flies by.
type playwrightBrowser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	page    playwright.Page

	mu    sync.Mutex
	login *LoginResponse
}

// NewPlaywrightBrowser launches Chromium with the automation marker disabled
// and a stealth init script, mirroring what the login page tolerates.
func NewPlaywrightBrowser(opts BrowserOptions) (Browser, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w (run `playwright install chromium` first)", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     []string{"--disable-blink-features=AutomationControlled"},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	ctxOpts := playwright.BrowserNewContextOptions{
		Locale:           playwright.String(opts.Locale),
		ExtraHttpHeaders: map[string]string{"Accept-Language": opts.AcceptLanguage},
	}
	if opts.UserAgent != "" {
		ctxOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	context, err := browser.NewContext(ctxOpts)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("new context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		_ = context.Close()
		_ = browser.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("new page: %w", err)
	}

	b := &playwrightBrowser{pw: pw, browser: browser, context: context, page: page}

	_ = page.AddInitScript(playwright.Script{Content: playwright.String(stealthScript(opts.Locale))})

	pattern := opts.LoginAPIPattern
	if pattern == "" {
		pattern = loginAPIPath
	}
	page.OnResponse(func(resp playwright.Response) {
		if !strings.Contains(resp.URL(), pattern) {
			return
		}
		var data map[string]any
		if text, err := resp.Text(); err == nil {
			_ = json.Unmarshal([]byte(text), &data)
		}
		b.mu.Lock()
		b.login = &LoginResponse{Status: resp.Status(), URL: resp.URL(), Data: data}
		b.mu.Unlock()
	})

	return b, nil
}

func (b *playwrightBrowser) Navigate(url string) error {
	_, err := b.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

func (b *playwrightBrowser) WaitForNetworkIdle(timeout time.Duration) bool {
	err := b.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return err == nil
}

func (b *playwrightBrowser) WaitForURLPrefix(prefix string, timeout time.Duration) bool {
	err := b.page.WaitForURL(prefix+"*", playwright.PageWaitForURLOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err == nil
}

func (b *playwrightBrowser) URL() string {
	return b.page.URL()
}

func (b *playwrightBrowser) Title() string {
	title, err := b.page.Title()
	if err != nil {
		return ""
	}
	return title
}

func (b *playwrightBrowser) Content() (string, error) {
	return b.page.Content()
}

func (b *playwrightBrowser) EvaluateString(script string) (string, error) {
	value, err := b.page.Evaluate(script)
	if err != nil {
		return "", err
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	return "", nil
}

func (b *playwrightBrowser) FindAny(selectors ...string) (string, bool) {
	for _, selector := range selectors {
		if b.locate(selector) != nil {
			return selector, true
		}
	}
	return "", false
}

func (b *playwrightBrowser) Fill(selector, value string) error {
	loc := b.locate(selector)
	if loc == nil {
		return fmt.Errorf("no element matches %q", selector)
	}
	return loc.First().Fill(value)
}

func (b *playwrightBrowser) Click(selector string) error {
	loc := b.locate(selector)
	if loc == nil {
		return fmt.Errorf("no element matches %q", selector)
	}
	return loc.First().Click()
}

func (b *playwrightBrowser) InnerText(selector string) (string, bool) {
	loc := b.page.Locator(selector)
	count, err := loc.Count()
	if err != nil || count == 0 {
		return "", false
	}
	text, err := loc.First().InnerText()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(text), true
}

// locate returns the first locator with a match for selector, searching the
// page first and then every frame.
func (b *playwrightBrowser) locate(selector string) playwright.Locator {
	loc := b.page.Locator(selector)
	if count, err := loc.Count(); err == nil && count > 0 {
		return loc
	}
	for _, frame := range b.page.Frames() {
		frameLoc := frame.Locator(selector)
		if count, err := frameLoc.Count(); err == nil && count > 0 {
			return frameLoc
		}
	}
	return nil
}

func (b *playwrightBrowser) Cookies(urls ...string) ([]Cookie, error) {
	raw, err := b.context.Cookies(urls...)
	if err != nil {
		return nil, err
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		})
	}
	return cookies, nil
}

func (b *playwrightBrowser) AddCookies(cookies []Cookie) error {
	converted := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{Name: c.Name, Value: c.Value}
		if c.Domain != "" {
			oc.Domain = playwright.String(c.Domain)
		}
		if c.Path != "" {
			oc.Path = playwright.String(c.Path)
		}
		if c.Expires != 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		converted = append(converted, oc)
	}
	return b.context.AddCookies(converted)
}

func (b *playwrightBrowser) SetExtraHTTPHeaders(headers map[string]string) error {
	return b.page.SetExtraHTTPHeaders(headers)
}

func (b *playwrightBrowser) LoginResponse() (*LoginResponse, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.login == nil {
		return nil, false
	}
	return b.login, true
}

func (b *playwrightBrowser) Get(url string) (*APIResult, error) {
	resp, err := b.context.Request().Get(url)
	if err != nil {
		return nil, err
	}
	body, err := resp.Body()
	if err != nil {
		body = nil
	}
	return &APIResult{Status: resp.Status(), Body: body}, nil
}

func (b *playwrightBrowser) Post(url string, headers map[string]string, body []byte) (*APIResult, error) {
	resp, err := b.context.Request().Post(url, playwright.APIRequestContextPostOptions{
		Headers: headers,
		Data:    string(body),
	})
	if err != nil {
		return nil, err
	}
	respBody, err := resp.Body()
	if err != nil {
		respBody = nil
	}
	return &APIResult{Status: resp.Status(), Body: respBody}, nil
}

func (b *playwrightBrowser) Screenshot(path string) error {
	_, err := b.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return err
}

func (b *playwrightBrowser) Close() error {
	_ = b.context.Close()
	_ = b.browser.Close()
	return b.pw.Stop()
}

// stealthScript hides the obvious automation fingerprints the login page is
// known to probe for.
func stealthScript(locale string) string {
	langs := `["en-US", "en"]`
	if strings.HasPrefix(strings.ToLower(locale), "zh") {
		langs = `["zh-CN", "zh"]`
	}
	return fmt.Sprintf(`
() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
  window.chrome = window.chrome || { runtime: {} };
  Object.defineProperty(navigator, 'languages', { get: () => %s });
  Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
}
`, langs)
}
