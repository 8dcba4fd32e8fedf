package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.China.BaseURL = "https://connect.garmin.cn"
	cfg.China.Auth.Type = AuthSessionCookie
	cfg.China.Auth.Cookie = "SESSIONID=a"
	cfg.Global.BaseURL = "https://connect.garmin.com"
	cfg.Global.Auth.Type = AuthInteractiveLogin
	cfg.Global.Auth.Username = "user@example.com"
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	assert.Equal(t, 10, cfg.Sync.Limit)
	assert.Equal(t, "state/uploaded.json", cfg.Sync.StatePath)
	assert.Equal(t, ModeFull, cfg.Sync.Mode)
	assert.Equal(t, "cn_to_global", cfg.Sync.Direction)
	assert.Equal(t, "activityId", cfg.China.IDField)
	assert.Equal(t, "activityId", cfg.Global.IDField)
}

func TestValidateAccepts(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.Mode = "sideways"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}

func TestValidateRejectsBadDirection(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.Direction = "up"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}

func TestValidateUploadOnlyRequiresDir(t *testing.T) {
	cfg := validConfig()
	cfg.Sync.Mode = ModeUploadOnly

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "upload_dir")

	cfg.Sync.UploadDir = "uploads"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresBaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.Global.BaseURL = ""

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "global.base_url")
}

func TestValidateRejectsUnknownAuthType(t *testing.T) {
	cfg := validConfig()
	cfg.China.Auth.Type = "oauth_dance"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}

func TestValidateInteractiveLoginRequiresUsername(t *testing.T) {
	cfg := validConfig()
	cfg.Global.Auth.Username = ""

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "username")
}

func TestValidateFillsEmptyIDField(t *testing.T) {
	cfg := validConfig()
	cfg.China.IDField = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "activityId", cfg.China.IDField)
}

func TestHeadlessOrDefault(t *testing.T) {
	var auth AuthConfig
	assert.True(t, auth.HeadlessOrDefault())

	visible := false
	auth.Headless = &visible
	assert.False(t, auth.HeadlessOrDefault())
}

func TestYAMLOverlay(t *testing.T) {
	doc := `
china:
  base_url: https://connect.garmin.cn
  auth:
    type: interactive_login
    username: user@example.com
    headless: false
  list_params:
    limit: 20
    start: 0
  sort_key: startTimeGmt
global:
  base_url: https://connect.garmin.com
  auth:
    type: session_cookie
    cookie: "SESSIONID=x"
sync:
  limit: 5
  mode: download_only
  state_path: state/test.json
`
	cfg := &Config{}
	cfg.LoadDefaults()
	require.NoError(t, yaml.Unmarshal([]byte(doc), cfg))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Sync.Limit)
	assert.Equal(t, ModeDownloadOnly, cfg.Sync.Mode)
	assert.Equal(t, "state/test.json", cfg.Sync.StatePath)
	assert.Equal(t, AuthInteractiveLogin, cfg.China.Auth.Type)
	assert.False(t, cfg.China.Auth.HeadlessOrDefault())
	assert.Equal(t, 20, cfg.China.ListParams["limit"])
	assert.Equal(t, "startTimeGmt", cfg.China.SortKey)
	// Defaults survive where the file is silent.
	assert.Equal(t, "cn_to_global", cfg.Sync.Direction)
	assert.Equal(t, "activityId", cfg.Global.IDField)
}
