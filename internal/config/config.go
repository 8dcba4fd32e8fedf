// Package config loads and validates the run configuration.
//
// Sources are applied in order: built-in defaults, then the YAML config file
// (path from -c/-config, default "config.yaml"), then command-line flag
// overrides. Later sources win.
package config

import (
	"errors"
	"fmt"
)

type Mode string

const (
	ModeFull         Mode = "full"
	ModeDownloadOnly Mode = "download_only"
	ModeUploadOnly   Mode = "upload_only"
)

type AuthType string

const (
	AuthSessionCookie    AuthType = "session_cookie"
	AuthInteractiveLogin AuthType = "interactive_login"
)

var ErrInvalid = errors.New("invalid config")

// SyncConfig controls the transfer run itself.
type SyncConfig struct {
	Limit       int    `yaml:"limit"`
	StatePath   string `yaml:"state_path"`
	DryRun      bool   `yaml:"dry_run"`
	Verbose     bool   `yaml:"verbose"`
	DownloadDir string `yaml:"download_dir"`
	IgnoreState bool   `yaml:"ignore_state"`
	UploadDir   string `yaml:"upload_dir"`
	UploadGlob  string `yaml:"upload_glob"`
	Mode        Mode   `yaml:"mode"`
	Direction   string `yaml:"direction"`
}

// EndpointConfig holds the URL templates of one region. Download templates
// use {activity_id} path substitution.
type EndpointConfig struct {
	ListActivities   string `yaml:"list_activities"`
	DownloadActivity string `yaml:"download_activity"`
	UploadActivity   string `yaml:"upload_activity"`
	UploadConsent    string `yaml:"upload_consent"`
}

// AuthConfig describes how to authenticate against one region. Exactly one
// variant is active, selected by Type.
type AuthConfig struct {
	Type AuthType `yaml:"type"`

	// session_cookie variant.
	Cookie string `yaml:"cookie"`

	// interactive_login variant.
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	SSOBaseURL      string `yaml:"sso_base_url"`
	ClientID        string `yaml:"client_id"`
	Locale          string `yaml:"locale"`
	ServiceURL      string `yaml:"service_url"`
	CaptchaToken    string `yaml:"captcha_token"`
	RememberMe      bool   `yaml:"remember_me"`
	Headless        *bool  `yaml:"headless"`
	LoginDebug      bool   `yaml:"login_debug"`
	ManualLogin     bool   `yaml:"manual_login"`
	CookieCachePath string `yaml:"cookie_cache_path"`
	UserAgent       string `yaml:"user_agent"`
}

// HeadlessOrDefault reports whether the login browser should run headless.
// Unset means headless.
func (a *AuthConfig) HeadlessOrDefault() bool {
	if a.Headless == nil {
		return true
	}
	return *a.Headless
}

// RegionConfig is the static description of one vendor deployment.
type RegionConfig struct {
	BaseURL         string            `yaml:"base_url"`
	Auth            AuthConfig        `yaml:"auth"`
	Endpoints       EndpointConfig    `yaml:"endpoints"`
	ListParams      map[string]any    `yaml:"list_params"`
	ListResponseKey string            `yaml:"list_response_key"`
	IDField         string            `yaml:"id_field"`
	SortKey         string            `yaml:"sort_key"`
	Headers         map[string]string `yaml:"headers"`
	ConsentParams   map[string]any    `yaml:"consent_params"`
}

// Config is the full, validated run configuration handed to the orchestrator.
type Config struct {
	China  RegionConfig `yaml:"china"`
	Global RegionConfig `yaml:"global"`
	Sync   SyncConfig   `yaml:"sync"`
}

// LoadDefaults populates c with the documented defaults.
func (c *Config) LoadDefaults() {
	c.Sync.Limit = 10
	c.Sync.StatePath = "state/uploaded.json"
	c.Sync.Mode = ModeFull
	c.Sync.Direction = "cn_to_global"
	c.China.IDField = "activityId"
	c.Global.IDField = "activityId"
}

// Load builds the configuration from defaults, the YAML file and flag
// overrides, then validates it. Validation failures abort before any
// network activity happens.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg); err != nil {
		return nil, err
	}
	parseFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enum values and mode requirements.
func (c *Config) Validate() error {
	switch c.Sync.Mode {
	case ModeFull, ModeDownloadOnly, ModeUploadOnly:
	default:
		return fmt.Errorf("%w: sync.mode must be one of: full, download_only, upload_only", ErrInvalid)
	}

	switch c.Sync.Direction {
	case "cn_to_global", "global_to_cn", "bidirectional":
	default:
		return fmt.Errorf("%w: sync.direction must be one of: cn_to_global, global_to_cn, bidirectional", ErrInvalid)
	}

	if c.Sync.Mode == ModeUploadOnly && c.Sync.UploadDir == "" {
		return fmt.Errorf("%w: sync.upload_dir is required for upload_only mode", ErrInvalid)
	}

	if err := validateRegion(&c.China, "china"); err != nil {
		return err
	}
	return validateRegion(&c.Global, "global")
}

func validateRegion(r *RegionConfig, name string) error {
	if r.BaseURL == "" {
		return fmt.Errorf("%w: %s.base_url is required", ErrInvalid, name)
	}
	switch r.Auth.Type {
	case AuthSessionCookie, AuthInteractiveLogin:
	default:
		return fmt.Errorf("%w: unsupported auth type %q for %s", ErrInvalid, r.Auth.Type, name)
	}
	if r.Auth.Type == AuthInteractiveLogin && r.Auth.Username == "" {
		return fmt.Errorf("%w: %s.auth.username is required for interactive_login", ErrInvalid, name)
	}
	if r.IDField == "" {
		r.IDField = "activityId"
	}
	return nil
}
