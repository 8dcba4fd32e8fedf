package config

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// PromptMissingSecrets asks for interactive-login passwords that the config
// file left empty, but only when stdin is a terminal. Non-terminal runs keep
// the empty password and fail later as an authentication error.
func (c *Config) PromptMissingSecrets() error {
	for _, r := range []struct {
		name   string
		region *RegionConfig
	}{{"china", &c.China}, {"global", &c.Global}} {
		auth := &r.region.Auth
		if auth.Type != AuthInteractiveLogin || auth.Password != "" {
			continue
		}
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			continue
		}
		fmt.Fprintf(os.Stderr, "Password for %s (%s): ", auth.Username, r.name)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		auth.Password = string(b)
	}
	return nil
}
