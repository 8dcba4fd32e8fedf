package browserlogin

import (
	"regexp"
	"strings"
)

var csrfHTMLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`name=["']csrf-token["']\s+content=["']([^"']+)["']`),
	regexp.MustCompile(`connect-csrf-token["']?\s*[:=]\s*["']([^"']+)["']`),
	regexp.MustCompile(`csrfToken["']?\s*[:=]\s*["']([^"']+)["']`),
	regexp.MustCompile(`csrf_token["']?\s*[:=]\s*["']([^"']+)["']`),
}

const csrfStorageScript = `
() => {
  const keys = [
    "connect-csrf-token",
    "csrf_token",
    "csrfToken",
    "XSRF-TOKEN",
    "xsrf-token",
  ];
  for (const key of keys) {
    try {
      const value = window.localStorage.getItem(key) || window.sessionStorage.getItem(key);
      if (value) return value;
    } catch (err) {}
  }
  return null;
}
`

// readCSRFToken tries, in order: patterns in the given HTML, browser-side
// local/session storage, cookie names containing csrf/xsrf, and finally
// patterns in the live page HTML. First match wins.
func (a *Agent) readCSRFToken(b Browser, cookies []Cookie, html string) string {
	if html != "" {
		if token := extractCSRFFromHTML(html); token != "" {
			return token
		}
	}

	if value, err := b.EvaluateString(csrfStorageScript); err == nil && value != "" {
		return value
	}

	for _, c := range cookies {
		name := strings.ToLower(c.Name)
		if (strings.Contains(name, "csrf") || strings.Contains(name, "xsrf")) && c.Value != "" {
			return c.Value
		}
	}

	if html == "" {
		live, err := b.Content()
		if err != nil {
			return ""
		}
		return extractCSRFFromHTML(live)
	}
	return ""
}

func extractCSRFFromHTML(html string) string {
	for _, pattern := range csrfHTMLPatterns {
		if m := pattern.FindStringSubmatch(html); m != nil {
			return m[1]
		}
	}
	return ""
}
