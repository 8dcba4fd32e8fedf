package browserlogin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dmitrijs2005/fitsync/internal/config"
	"github.com/dmitrijs2005/fitsync/internal/logging"
)

var (
	// ErrBlocked means an interstitial challenge page replaced the login
	// form. Retrying with a visible browser is usually the way out.
	ErrBlocked = errors.New("blocked by interstitial challenge page; try headless: false and retry")

	// ErrFormNotFound means no username or password input showed up within
	// the form-detection window.
	ErrFormNotFound = errors.New("login form not found")

	// ErrNoCookies means the pipeline finished without harvesting a single
	// cookie for the target domain.
	ErrNoCookies = errors.New("login completed, but no cookies were captured")

	// ErrLoginFailed wraps the on-page error banner text.
	ErrLoginFailed = errors.New("login failed")
)

var usernameSelectors = []string{
	`input[name="username"]`,
	`input[name="email"]`,
	`input[type="email"]`,
	`input[autocomplete="username"]`,
	`input[id*="username" i]`,
	`input[id*="email" i]`,
}

var passwordSelectors = []string{
	`input[name="password"]`,
	`input[type="password"]`,
	`input[autocomplete="current-password"]`,
	`input[id*="password" i]`,
}

var submitSelectors = []string{
	`button[type="submit"]`,
	`button:has-text("Sign In")`,
	`button:has-text("Log In")`,
	`button:has-text("登录")`,
	`button:has-text("登入")`,
	`input[type="submit"]`,
}

var turnstileSelectors = []string{
	`iframe[src*="turnstile"]`,
	`div[class*="turnstile"]`,
}

const (
	loginAPIPath     = "/portal/api/login"
	errorBannerSel   = ".g__alert--error"
	localeCookieName = "GarminUserPrefs"
	clearanceCookie  = "cf_clearance"
	blockedTitle     = "just a moment"
	debugArtifactDir = "state"
)

// timings are the bounded waits of the pipeline. Every wait has an explicit
// limit; nothing blocks indefinitely.
type timings struct {
	pollInterval     time.Duration
	responsePollStep time.Duration
	formTimeout      time.Duration
	locatorTimeout   time.Duration
	networkIdle      time.Duration
	clearanceWindow  time.Duration
	responseWindow   time.Duration
	redirectWindow   time.Duration
	lateWindow       time.Duration
	settleTimeout    time.Duration
	manualTimeout    time.Duration
}

func defaultTimings() timings {
	return timings{
		pollInterval:     500 * time.Millisecond,
		responsePollStep: 200 * time.Millisecond,
		formTimeout:      60 * time.Second,
		locatorTimeout:   30 * time.Second,
		networkIdle:      5 * time.Second,
		clearanceWindow:  5 * time.Second,
		responseWindow:   6 * time.Second,
		redirectWindow:   5 * time.Second,
		lateWindow:       3 * time.Second,
		settleTimeout:    8 * time.Second,
		manualTimeout:    60 * time.Second,
	}
}

// Agent drives a Browser through the SSO login pipeline.
type Agent struct {
	log        logging.Logger
	newBrowser func(opts BrowserOptions) (Browser, error)
	t          timings
}

// NewAgent builds an agent using the playwright-backed browser.
func NewAgent(log logging.Logger) *Agent {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Agent{log: log, newBrowser: NewPlaywrightBrowser, t: defaultTimings()}
}

// Login walks the pipeline and returns the harvested cookie header and an
// optional CSRF token. It fails when the form never appears, the page is an
// interstitial block, the error banner fires with no success signal, or no
// cookies were harvested at the end.
func (a *Agent) Login(ctx context.Context, baseURL string, auth config.AuthConfig) (string, string, error) {
	if auth.Username == "" || auth.Password == "" {
		return "", "", errors.New("interactive_login auth requires username and password")
	}

	ssoBase := strings.TrimRight(orDefault(auth.SSOBaseURL, "https://sso.garmin.cn"), "/")
	clientID := orDefault(auth.ClientID, "GarminConnect")
	locale := orDefault(auth.Locale, "zh-CN")
	base := strings.TrimRight(baseURL, "/")
	serviceURL := orDefault(auth.ServiceURL, base+"/app")
	signinURL := buildSigninURL(ssoBase, clientID, serviceURL, locale)

	start := time.Now()
	a.log.Debug("starting interactive login",
		"headless", auth.HeadlessOrDefault(), "locale", locale, "signin_url", signinURL)

	b, err := a.newBrowser(BrowserOptions{
		Headless:        auth.HeadlessOrDefault(),
		Locale:          locale,
		UserAgent:       auth.UserAgent,
		AcceptLanguage:  acceptLanguage(locale),
		LoginAPIPattern: loginAPIPath,
		Debug:           auth.LoginDebug,
	})
	if err != nil {
		return "", "", fmt.Errorf("launch browser: %w", err)
	}
	defer b.Close()

	// Navigate. Locale cookies are seeded on both hosts first so neither
	// side bounces to a language chooser.
	seedLocaleCookies(b, []string{ssoBase, base}, locale)
	if auth.CookieCachePath != "" {
		a.loadCookieCache(b, auth.CookieCachePath)
	}
	if err := b.Navigate(signinURL); err != nil {
		return "", "", fmt.Errorf("open sign-in page: %w", err)
	}
	// Login pages keep long-lived background connections open, so network
	// idle is best-effort only; the real gate is the form showing up.
	if !b.WaitForNetworkIdle(a.t.networkIdle) {
		a.log.Debug("network idle timeout; continuing")
	}
	a.log.Debug("sign-in page loaded", "elapsed", time.Since(start).Round(100*time.Millisecond))

	// Bot-mitigation probe. The widget may be a false positive, so the
	// clearance wait is bounded and its outcome is ignored.
	if _, found := b.FindAny(turnstileSelectors...); found {
		a.log.Debug("challenge widget detected; waiting for clearance cookie")
		a.waitForCookie(ctx, b, ssoBase, clearanceCookie, a.t.clearanceWindow)
	}

	a.propagateCookieHeader(b, ssoBase)

	if err := a.waitForLoginForm(ctx, b); err != nil {
		return "", "", err
	}

	if auth.ManualLogin {
		a.log.Info("manual login enabled; complete the sign-in in the browser window")
	} else {
		a.log.Debug("login form detected; submitting credentials")
		if err := a.fillFirst(ctx, b, usernameSelectors, auth.Username); err != nil {
			return "", "", err
		}
		if err := a.fillFirst(ctx, b, passwordSelectors, auth.Password); err != nil {
			return "", "", err
		}
		if err := a.clickFirst(ctx, b, submitSelectors); err != nil {
			return "", "", err
		}
	}

	// Capture the background login API response; arrival is asynchronous
	// relative to the click, so poll within a bounded window.
	loginResp, captured := a.waitForLoginResponse(ctx, b, a.t.responseWindow)
	if !captured {
		b.WaitForURLPrefix(base+"/", a.t.redirectWindow)
	}

	redeemed := false
	if captured {
		a.log.Debug("login response captured", "status", loginResp.Status, "url", loginResp.URL)
		redeemed = a.redeemServiceTicket(b, loginResp)
	} else {
		// Absorb navigation-related timing races before giving up on the
		// listener.
		if late, ok := a.waitForLoginResponse(ctx, b, a.t.lateWindow); ok {
			loginResp, captured = late, true
			a.log.Debug("late login response", "status", late.Status, "url", late.URL)
			redeemed = a.redeemServiceTicket(b, late)
		}
	}

	onApp := strings.HasPrefix(b.URL(), base+"/")
	directLogin := false
	if !captured && !onApp {
		if auth.LoginDebug {
			a.dumpLoginDebug(b)
		}
		a.log.Debug("attempting direct SSO login fallback")
		directLogin = a.directSSOLogin(b, ssoBase, signinURL, serviceURL, clientID, locale, auth)
	}

	if redeemed || directLogin {
		landing := base + "/modern/"
		if strings.Contains(base, "connect.garmin.com") {
			landing = base + "/app/home"
		}
		if err := b.Navigate(landing); err != nil {
			a.log.Debug("post-redeem navigation failed", "url", landing)
		}
	}

	onApp = strings.HasPrefix(b.URL(), base+"/")
	loggedIn := onApp || captured

	if banner, found := a.readErrorBanner(b); found && !directLogin && !redeemed && !loggedIn {
		return "", "", fmt.Errorf("%w: %s", ErrLoginFailed, banner)
	}

	// Final settle: one bounded wait for the app domain, long in manual
	// mode to give the operator time.
	if !captured && !loggedIn && !onApp {
		wait := a.t.settleTimeout
		if auth.ManualLogin {
			wait = a.t.manualTimeout
		}
		if !b.WaitForURLPrefix(base+"/", wait) {
			a.log.Debug("redirect did not reach app domain", "url", b.URL())
		}
		loggedIn = strings.HasPrefix(b.URL(), base+"/")
	}

	// Harvest. The CSRF token can hide in the app HTML, browser storage or
	// a cookie; try each source in turn.
	appHTML, _ := b.Content()
	if appHTML == "" && !loggedIn {
		appHTML = a.fetchAppHTML(b, base)
	}
	if appHTML == "" && !loggedIn {
		if err := b.Navigate(base + "/app"); err == nil {
			appHTML, _ = b.Content()
		}
	}

	cookies, err := b.Cookies(base)
	if err != nil {
		return "", "", fmt.Errorf("read cookies: %w", err)
	}
	if len(cookies) == 0 {
		a.log.Debug("no cookies harvested", "url", b.URL(), "title", b.Title())
		return "", "", ErrNoCookies
	}

	header := ensureLocaleCookie(cookieHeader(cookies), locale)
	csrfToken := a.readCSRFToken(b, cookies, appHTML)
	if auth.CookieCachePath != "" {
		a.saveCookieCache(auth.CookieCachePath, cookies)
	}

	if auth.LoginDebug {
		a.writeLoginSummary(b, cookies, csrfToken)
	}
	a.log.Debug("interactive login finished",
		"cookies", len(cookies), "csrf", csrfToken != "", "elapsed", time.Since(start).Round(100*time.Millisecond))

	return header, csrfToken, nil
}

// waitForLoginForm polls for a username or password input across the page
// and all frames. A known interstitial block title is a distinct fatal
// error; plain timeout is fatal too.
func (a *Agent) waitForLoginForm(ctx context.Context, b Browser) error {
	deadline := time.Now().Add(a.t.formTimeout)
	for time.Now().Before(deadline) {
		if _, found := b.FindAny(usernameSelectors...); found {
			return nil
		}
		if _, found := b.FindAny(passwordSelectors...); found {
			return nil
		}
		if strings.HasPrefix(strings.ToLower(b.Title()), blockedTitle) {
			return ErrBlocked
		}
		if !sleepCtx(ctx, a.t.pollInterval) {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w at %s; try headless: false or update selectors", ErrFormNotFound, b.URL())
}

// waitForLoginResponse polls the capture buffer within a bounded window.
func (a *Agent) waitForLoginResponse(ctx context.Context, b Browser, window time.Duration) (*LoginResponse, bool) {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if resp, ok := b.LoginResponse(); ok {
			return resp, true
		}
		if !sleepCtx(ctx, a.t.responsePollStep) {
			return nil, false
		}
	}
	return nil, false
}

func (a *Agent) fillFirst(ctx context.Context, b Browser, selectors []string, value string) error {
	sel, found := a.findFirst(ctx, b, selectors)
	if !found {
		return fmt.Errorf("could not find input for selectors: %v", selectors)
	}
	return b.Fill(sel, value)
}

func (a *Agent) clickFirst(ctx context.Context, b Browser, selectors []string) error {
	sel, found := a.findFirst(ctx, b, selectors)
	if !found {
		return fmt.Errorf("could not find submit control for selectors: %v", selectors)
	}
	return b.Click(sel)
}

func (a *Agent) findFirst(ctx context.Context, b Browser, selectors []string) (string, bool) {
	deadline := time.Now().Add(a.t.locatorTimeout)
	for time.Now().Before(deadline) {
		if sel, found := b.FindAny(selectors...); found {
			return sel, true
		}
		if !sleepCtx(ctx, a.t.pollInterval) {
			return "", false
		}
	}
	return "", false
}

// waitForCookie waits until a cookie with the given name shows up on the
// host, or the window elapses. The outcome is advisory only.
func (a *Agent) waitForCookie(ctx context.Context, b Browser, baseURL, name string, window time.Duration) {
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		cookies, err := b.Cookies(baseURL)
		if err == nil {
			for _, c := range cookies {
				if c.Name == name {
					a.log.Debug("cookie present", "name", name)
					return
				}
			}
		}
		if !sleepCtx(ctx, a.t.pollInterval) {
			return
		}
	}
	a.log.Debug("cookie not detected within window", "name", name, "window", window)
}

// propagateCookieHeader copies the SSO-domain cookies into the page's own
// outgoing headers so same-page requests stay consistent before the jar is
// otherwise synced.
func (a *Agent) propagateCookieHeader(b Browser, ssoBase string) {
	cookies, err := b.Cookies(ssoBase)
	if err != nil || len(cookies) == 0 {
		a.log.Debug("no cookies available to inject into request headers")
		return
	}
	header := cookieHeader(cookies)
	if header == "" {
		return
	}
	if err := b.SetExtraHTTPHeaders(map[string]string{"Cookie": header}); err != nil {
		a.log.Debug("failed to inject cookie header")
	}
}

// redeemServiceTicket follows the service-redirect URL from a login response
// to finalize the server-side session. Missing payload or URL is a normal
// inconclusive outcome, not an error.
func (a *Agent) redeemServiceTicket(b Browser, resp *LoginResponse) bool {
	if resp == nil || resp.Data == nil {
		a.log.Debug("login response missing JSON payload")
		return false
	}
	serviceURL := firstString(resp.Data, "serviceURL", "serviceUrl", "service")
	ticket := firstString(resp.Data, "serviceTicketId", "ticket")
	if serviceURL == "" {
		a.log.Debug("login response missing service URL")
		return false
	}
	if ticket != "" && !strings.Contains(serviceURL, "ticket=") {
		sep := "?"
		if strings.Contains(serviceURL, "?") {
			sep = "&"
		}
		serviceURL = serviceURL + sep + "ticket=" + ticket
	}
	if ticket != "" {
		a.log.Debug("redeeming service ticket")
	} else {
		a.log.Debug("login response missing service ticket")
	}
	res, err := b.Get(serviceURL)
	if err != nil {
		a.log.Debug("failed to redeem service ticket")
		return false
	}
	a.log.Debug("redeemed service ticket", "status", res.Status)
	return res.OK()
}

// directSSOLogin posts the same credential payload the web form would submit
// straight to the login API, reusing cookies already held for the SSO
// domain, then redeems the returned ticket.
func (a *Agent) directSSOLogin(b Browser, ssoBase, signinURL, serviceURL, clientID, locale string, auth config.AuthConfig) bool {
	q := url.Values{}
	q.Set("clientId", clientID)
	q.Set("locale", locale)
	q.Set("service", serviceURL)
	loginURL := ssoBase + loginAPIPath + "?" + q.Encode()

	headers := map[string]string{
		"Accept":       "application/json, text/plain, */*",
		"Content-Type": "application/json",
		"Origin":       ssoBase,
		"Referer":      signinURL,
	}
	if auth.UserAgent != "" {
		headers["User-Agent"] = auth.UserAgent
	}
	if cookies, err := b.Cookies(ssoBase); err == nil {
		if header := cookieHeader(cookies); header != "" {
			headers["Cookie"] = header
		}
	}

	payload := fmt.Sprintf(`{"username":%s,"password":%s,"rememberMe":%t,"captchaToken":%s}`,
		jsonString(auth.Username), jsonString(auth.Password), auth.RememberMe, jsonString(auth.CaptchaToken))

	res, err := b.Post(loginURL, headers, []byte(payload))
	if err != nil {
		a.log.Debug("direct SSO login request failed")
		return false
	}
	a.log.Debug("direct SSO login", "status", res.Status)
	if !res.OK() {
		snippet := strings.ReplaceAll(string(res.Body), "\n", " ")
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		a.log.Debug("direct SSO login response", "body", snippet)
		return false
	}
	data, ok := decodeObject(res.Body)
	if !ok {
		return false
	}
	return a.redeemServiceTicket(b, &LoginResponse{Status: res.Status, URL: loginURL, Data: data})
}

func (a *Agent) readErrorBanner(b Browser) (string, bool) {
	text, found := b.InnerText(errorBannerSel)
	if !found || strings.TrimSpace(text) == "" {
		return "", false
	}
	return strings.TrimSpace(text), true
}

// fetchAppHTML pulls the app page over the browser context, outside the
// page, as a CSRF source of last resort.
func (a *Agent) fetchAppHTML(b Browser, base string) string {
	res, err := b.Get(base + "/app")
	if err != nil {
		a.log.Debug("app page request failed")
		return ""
	}
	if !res.OK() {
		a.log.Debug("app page request failed", "status", res.Status)
		return ""
	}
	return string(res.Body)
}

// dumpLoginDebug writes best-effort diagnostics. Failures here are swallowed;
// they must never abort the run.
func (a *Agent) dumpLoginDebug(b Browser) {
	a.log.Debug("no login response", "title", b.Title(), "url", b.URL())
	if banner, found := a.readErrorBanner(b); found {
		a.log.Debug("error banner", "text", banner)
	}
	if _, found := b.FindAny(turnstileSelectors...); found {
		a.log.Debug("challenge widget present on page")
	}
	if err := b.Screenshot(debugArtifactDir + "/login_debug.png"); err == nil {
		a.log.Debug("wrote login_debug.png")
	}
	if html, err := b.Content(); err == nil {
		_ = writeFileBestEffort(debugArtifactDir+"/login_debug.html", []byte(html))
	}
}

func (a *Agent) writeLoginSummary(b Browser, cookies []Cookie, csrfToken string) {
	lines := []string{
		"url=" + b.URL(),
		"title=" + b.Title(),
		fmt.Sprintf("cookies=%d", len(cookies)),
		fmt.Sprintf("csrf_present=%t", csrfToken != ""),
	}
	_ = writeFileBestEffort(debugArtifactDir+"/login_summary.txt", []byte(strings.Join(lines, "\n")))
}

func buildSigninURL(ssoBase, clientID, serviceURL, locale string) string {
	q := url.Values{}
	q.Set("clientId", clientID)
	q.Set("service", serviceURL)
	return fmt.Sprintf("%s/portal/sso/%s/sign-in?%s", ssoBase, locale, q.Encode())
}

func cookieHeader(cookies []Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name != "" && c.Value != "" {
			parts = append(parts, c.Name+"="+c.Value)
		}
	}
	return strings.Join(parts, "; ")
}

// ensureLocaleCookie guarantees the locale-preference cookie is present in
// the header even when the server never set one.
func ensureLocaleCookie(header, locale string) string {
	if strings.Contains(header, localeCookieName+"=") {
		return header
	}
	prefix := localeCookieName + "=" + locale
	if header == "" {
		return prefix
	}
	return prefix + "; " + header
}

func acceptLanguage(locale string) string {
	if strings.HasPrefix(strings.ToLower(locale), "en-") {
		return locale
	}
	lang, _, _ := strings.Cut(locale, "-")
	return fmt.Sprintf("%s,%s;q=0.9", locale, lang)
}

func seedLocaleCookies(b Browser, urls []string, locale string) {
	var cookies []Cookie
	for _, raw := range urls {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			continue
		}
		cookies = append(cookies, Cookie{
			Name:   localeCookieName,
			Value:  locale,
			Domain: u.Hostname(),
			Path:   "/",
		})
	}
	if len(cookies) > 0 {
		_ = b.AddCookies(cookies)
	}
}

func firstString(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := data[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// sleepCtx sleeps for d unless the context ends first. Returns false when
// the context ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
