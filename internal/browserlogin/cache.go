package browserlogin

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// loadCookieCache seeds cookies persisted by a previous run. A missing or
// unreadable cache is fine; it only speeds up a fresh login.
func (a *Agent) loadCookieCache(b Browser, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		a.log.Debug("failed to read cookie cache", "path", path)
		return
	}
	if len(cookies) > 0 {
		if err := b.AddCookies(cookies); err == nil {
			a.log.Debug("loaded cached cookies", "count", len(cookies), "path", path)
		}
	}
}

// saveCookieCache persists the harvested cookies for reuse by a future run.
// Best-effort: a write failure never aborts the login.
func (a *Agent) saveCookieCache(path string, cookies []Cookie) {
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			a.log.Debug("failed to write cookie cache", "path", path)
			return
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		a.log.Debug("failed to write cookie cache", "path", path)
		return
	}
	a.log.Debug("saved cookies", "count", len(cookies), "path", path)
}
