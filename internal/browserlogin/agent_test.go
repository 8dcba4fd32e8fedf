package browserlogin

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fitsync/internal/config"
	"github.com/dmitrijs2005/fitsync/internal/logging"
)

// fakeBrowser scripts the Browser surface for pipeline tests. Cookies returns
// only the preset list; AddCookies records seeding without affecting it.
type fakeBrowser struct {
	url      string
	title    string
	content  string
	present  map[string]bool
	banner   string
	cookies  []Cookie
	evalued  string
	loginRes *LoginResponse

	getResult  *APIResult
	getErr     error
	postResult *APIResult
	postErr    error

	// redirectOnWait makes WaitForURLPrefix succeed by moving the page onto
	// the requested prefix, mimicking the post-login redirect.
	redirectOnWait bool

	navigations []string
	fills       map[string]string
	clicks      []string
	added       []Cookie
	getCalls    []string
	postCalls   []string
	postBodies  []string
	closed      bool
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		present: map[string]bool{},
		fills:   map[string]string{},
	}
}

func (f *fakeBrowser) Navigate(url string) error {
	f.navigations = append(f.navigations, url)
	f.url = url
	return nil
}

func (f *fakeBrowser) WaitForNetworkIdle(timeout time.Duration) bool { return true }

func (f *fakeBrowser) WaitForURLPrefix(prefix string, timeout time.Duration) bool {
	if f.redirectOnWait {
		f.url = prefix + "home"
		return true
	}
	return strings.HasPrefix(f.url, prefix)
}

func (f *fakeBrowser) URL() string             { return f.url }
func (f *fakeBrowser) Title() string           { return f.title }
func (f *fakeBrowser) Content() (string, error) { return f.content, nil }

func (f *fakeBrowser) EvaluateString(script string) (string, error) { return f.evalued, nil }

func (f *fakeBrowser) FindAny(selectors ...string) (string, bool) {
	for _, sel := range selectors {
		if f.present[sel] {
			return sel, true
		}
	}
	return "", false
}

func (f *fakeBrowser) Fill(selector, value string) error {
	f.fills[selector] = value
	return nil
}

func (f *fakeBrowser) Click(selector string) error {
	f.clicks = append(f.clicks, selector)
	return nil
}

func (f *fakeBrowser) InnerText(selector string) (string, bool) {
	if selector == errorBannerSel && f.banner != "" {
		return f.banner, true
	}
	return "", false
}

func (f *fakeBrowser) Cookies(urls ...string) ([]Cookie, error) { return f.cookies, nil }

func (f *fakeBrowser) AddCookies(cookies []Cookie) error {
	f.added = append(f.added, cookies...)
	return nil
}

func (f *fakeBrowser) SetExtraHTTPHeaders(headers map[string]string) error { return nil }

func (f *fakeBrowser) LoginResponse() (*LoginResponse, bool) {
	if f.loginRes == nil {
		return nil, false
	}
	return f.loginRes, true
}

func (f *fakeBrowser) Get(url string) (*APIResult, error) {
	f.getCalls = append(f.getCalls, url)
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.getResult != nil {
		return f.getResult, nil
	}
	return &APIResult{Status: 200}, nil
}

func (f *fakeBrowser) Post(url string, headers map[string]string, body []byte) (*APIResult, error) {
	f.postCalls = append(f.postCalls, url)
	f.postBodies = append(f.postBodies, string(body))
	if f.postErr != nil {
		return nil, f.postErr
	}
	if f.postResult != nil {
		return f.postResult, nil
	}
	return &APIResult{Status: 200}, nil
}

func (f *fakeBrowser) Screenshot(path string) error { return nil }

func (f *fakeBrowser) Close() error {
	f.closed = true
	return nil
}

func fastTimings() timings {
	return timings{
		pollInterval:     time.Millisecond,
		responsePollStep: time.Millisecond,
		formTimeout:      50 * time.Millisecond,
		locatorTimeout:   50 * time.Millisecond,
		networkIdle:      time.Millisecond,
		clearanceWindow:  5 * time.Millisecond,
		responseWindow:   10 * time.Millisecond,
		redirectWindow:   5 * time.Millisecond,
		lateWindow:       5 * time.Millisecond,
		settleTimeout:    10 * time.Millisecond,
		manualTimeout:    20 * time.Millisecond,
	}
}

func newTestAgent(fb *fakeBrowser) *Agent {
	return &Agent{
		log:        logging.NewNopLogger(),
		newBrowser: func(opts BrowserOptions) (Browser, error) { return fb, nil },
		t:          fastTimings(),
	}
}

const testBase = "https://connect.garmin.cn"

func testAuth() config.AuthConfig {
	return config.AuthConfig{
		Type:     config.AuthInteractiveLogin,
		Username: "user@example.com",
		Password: "secret",
	}
}

func withLoginForm(fb *fakeBrowser) {
	fb.present[`input[name="username"]`] = true
	fb.present[`input[name="password"]`] = true
	fb.present[`button[type="submit"]`] = true
}

func TestLoginHappyPath(t *testing.T) {
	fb := newFakeBrowser()
	withLoginForm(fb)
	fb.cookies = []Cookie{
		{Name: "SESSIONID", Value: "abc"},
		{Name: "CSRF-TOKEN", Value: "tok123"},
	}
	fb.loginRes = &LoginResponse{
		Status: 200,
		URL:    "https://sso.garmin.cn" + loginAPIPath,
		Data: map[string]any{
			"serviceURL":      testBase + "/app",
			"serviceTicketId": "ST-123",
		},
	}

	header, csrf, err := newTestAgent(fb).Login(context.Background(), testBase, testAuth())
	require.NoError(t, err)

	assert.Contains(t, header, "SESSIONID=abc")
	assert.Contains(t, header, "GarminUserPrefs=zh-CN")
	assert.Equal(t, "tok123", csrf)

	assert.Equal(t, "user@example.com", fb.fills[`input[name="username"]`])
	assert.Equal(t, "secret", fb.fills[`input[name="password"]`])
	assert.Equal(t, []string{`button[type="submit"]`}, fb.clicks)

	// Ticket redemption followed the service URL with the ticket appended.
	require.NotEmpty(t, fb.getCalls)
	assert.Equal(t, testBase+"/app?ticket=ST-123", fb.getCalls[0])

	// China base lands on /modern/, and the browser is torn down.
	assert.Contains(t, fb.navigations, testBase+"/modern/")
	assert.True(t, fb.closed)
}

func TestLoginSeedsLocaleCookies(t *testing.T) {
	fb := newFakeBrowser()
	withLoginForm(fb)
	fb.cookies = []Cookie{{Name: "SESSIONID", Value: "abc"}}
	fb.redirectOnWait = true

	_, _, err := newTestAgent(fb).Login(context.Background(), testBase, testAuth())
	require.NoError(t, err)

	domains := map[string]bool{}
	for _, c := range fb.added {
		require.Equal(t, localeCookieName, c.Name)
		require.Equal(t, "zh-CN", c.Value)
		domains[c.Domain] = true
	}
	assert.True(t, domains["sso.garmin.cn"])
	assert.True(t, domains["connect.garmin.cn"])
}

func TestLoginBlockedByInterstitial(t *testing.T) {
	fb := newFakeBrowser()
	fb.title = "Just a moment..."

	_, _, err := newTestAgent(fb).Login(context.Background(), testBase, testAuth())
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestLoginFormNeverAppears(t *testing.T) {
	fb := newFakeBrowser()
	fb.title = "Sign In"

	_, _, err := newTestAgent(fb).Login(context.Background(), testBase, testAuth())
	assert.ErrorIs(t, err, ErrFormNotFound)
}

func TestLoginErrorBanner(t *testing.T) {
	fb := newFakeBrowser()
	withLoginForm(fb)
	fb.banner = "Invalid username or password"
	fb.postResult = &APIResult{Status: 403, Body: []byte("denied")}

	_, _, err := newTestAgent(fb).Login(context.Background(), testBase, testAuth())
	require.ErrorIs(t, err, ErrLoginFailed)
	assert.Contains(t, err.Error(), "Invalid username or password")
}

func TestLoginNoCookiesHarvested(t *testing.T) {
	fb := newFakeBrowser()
	withLoginForm(fb)
	fb.getErr = errors.New("unreachable")
	fb.postErr = errors.New("unreachable")

	_, _, err := newTestAgent(fb).Login(context.Background(), testBase, testAuth())
	assert.ErrorIs(t, err, ErrNoCookies)
}

func TestLoginDirectFallback(t *testing.T) {
	fb := newFakeBrowser()
	withLoginForm(fb)
	fb.cookies = []Cookie{{Name: "SESSIONID", Value: "abc"}}
	fb.postResult = &APIResult{
		Status: 200,
		Body:   []byte(`{"serviceURL": "` + testBase + `/app", "serviceTicketId": "ST-9"}`),
	}

	header, _, err := newTestAgent(fb).Login(context.Background(), testBase, testAuth())
	require.NoError(t, err)
	assert.Contains(t, header, "SESSIONID=abc")

	require.Len(t, fb.postCalls, 1)
	assert.Contains(t, fb.postCalls[0], "https://sso.garmin.cn"+loginAPIPath+"?")
	assert.Contains(t, fb.postCalls[0], "clientId=GarminConnect")
	assert.Contains(t, fb.postBodies[0], `"username":"user@example.com"`)
	assert.Contains(t, fb.postBodies[0], `"rememberMe":false`)

	require.NotEmpty(t, fb.getCalls)
	assert.Equal(t, testBase+"/app?ticket=ST-9", fb.getCalls[0])
}

func TestLoginManualModeSkipsCredentialEntry(t *testing.T) {
	fb := newFakeBrowser()
	withLoginForm(fb)
	fb.cookies = []Cookie{{Name: "SESSIONID", Value: "abc"}}
	fb.redirectOnWait = true

	auth := testAuth()
	auth.ManualLogin = true
	_, _, err := newTestAgent(fb).Login(context.Background(), testBase, auth)
	require.NoError(t, err)

	assert.Empty(t, fb.fills)
	assert.Empty(t, fb.clicks)
}

func TestLoginRequiresCredentials(t *testing.T) {
	a := newTestAgent(newFakeBrowser())
	_, _, err := a.Login(context.Background(), testBase, config.AuthConfig{Type: config.AuthInteractiveLogin})
	assert.Error(t, err)
}

func TestRedeemServiceTicketAppendsWithAmpersand(t *testing.T) {
	fb := newFakeBrowser()
	a := newTestAgent(fb)

	ok := a.redeemServiceTicket(fb, &LoginResponse{Data: map[string]any{
		"serviceUrl": testBase + "/app?lang=zh",
		"ticket":     "ST-7",
	}})
	require.True(t, ok)
	assert.Equal(t, testBase+"/app?lang=zh&ticket=ST-7", fb.getCalls[0])
}

func TestRedeemServiceTicketMissingURL(t *testing.T) {
	fb := newFakeBrowser()
	a := newTestAgent(fb)

	assert.False(t, a.redeemServiceTicket(fb, &LoginResponse{Data: map[string]any{"ticket": "ST-7"}}))
	assert.False(t, a.redeemServiceTicket(fb, nil))
	assert.Empty(t, fb.getCalls)
}

func TestBuildSigninURL(t *testing.T) {
	got := buildSigninURL("https://sso.garmin.cn", "GarminConnect", "https://connect.garmin.cn/app", "zh-CN")
	assert.Equal(t,
		"https://sso.garmin.cn/portal/sso/zh-CN/sign-in?clientId=GarminConnect&service=https%3A%2F%2Fconnect.garmin.cn%2Fapp",
		got)
}

func TestEnsureLocaleCookie(t *testing.T) {
	assert.Equal(t, "GarminUserPrefs=zh-CN", ensureLocaleCookie("", "zh-CN"))
	assert.Equal(t, "GarminUserPrefs=zh-CN; SESSIONID=a", ensureLocaleCookie("SESSIONID=a", "zh-CN"))
	assert.Equal(t, "GarminUserPrefs=en-US; x=y", ensureLocaleCookie("GarminUserPrefs=en-US; x=y", "zh-CN"))
}

func TestAcceptLanguage(t *testing.T) {
	assert.Equal(t, "zh-CN,zh;q=0.9", acceptLanguage("zh-CN"))
	assert.Equal(t, "en-US", acceptLanguage("en-US"))
}

func TestCookieHeaderSkipsEmpty(t *testing.T) {
	header := cookieHeader([]Cookie{
		{Name: "a", Value: "1"},
		{Name: "", Value: "x"},
		{Name: "b", Value: ""},
		{Name: "c", Value: "3"},
	})
	assert.Equal(t, "a=1; c=3", header)
}

func TestReadCSRFTokenFromHTML(t *testing.T) {
	fb := newFakeBrowser()
	a := newTestAgent(fb)

	html := `<meta name="csrf-token" content="html-token">`
	assert.Equal(t, "html-token", a.readCSRFToken(fb, nil, html))
}

func TestReadCSRFTokenFromStorage(t *testing.T) {
	fb := newFakeBrowser()
	fb.evalued = "storage-token"
	a := newTestAgent(fb)

	assert.Equal(t, "storage-token", a.readCSRFToken(fb, nil, "<html>no token here</html>"))
}

func TestReadCSRFTokenFromCookie(t *testing.T) {
	fb := newFakeBrowser()
	a := newTestAgent(fb)

	cookies := []Cookie{{Name: "SESSIONID", Value: "a"}, {Name: "XSRF-TOKEN", Value: "cookie-token"}}
	assert.Equal(t, "cookie-token", a.readCSRFToken(fb, cookies, "<html></html>"))
}

func TestReadCSRFTokenFromLivePage(t *testing.T) {
	fb := newFakeBrowser()
	fb.content = `window.csrfToken = "live-token";`
	a := newTestAgent(fb)

	assert.Equal(t, "live-token", a.readCSRFToken(fb, nil, ""))
}
