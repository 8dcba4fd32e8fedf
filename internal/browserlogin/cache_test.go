package browserlogin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "cookies.json")
	fb := newFakeBrowser()
	a := newTestAgent(fb)

	cookies := []Cookie{
		{Name: "SESSIONID", Value: "abc", Domain: "connect.garmin.cn", Path: "/", Secure: true},
		{Name: "GarminUserPrefs", Value: "zh-CN", Domain: "sso.garmin.cn", Path: "/"},
	}
	a.saveCookieCache(path, cookies)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	a.loadCookieCache(fb, path)
	assert.Equal(t, cookies, fb.added)
}

func TestLoadCookieCacheMissingFile(t *testing.T) {
	fb := newFakeBrowser()
	a := newTestAgent(fb)

	a.loadCookieCache(fb, filepath.Join(t.TempDir(), "nope.json"))
	assert.Empty(t, fb.added)
}

func TestLoadCookieCacheCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	fb := newFakeBrowser()
	a := newTestAgent(fb)

	a.loadCookieCache(fb, path)
	assert.Empty(t, fb.added)
}
