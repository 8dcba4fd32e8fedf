package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/fitsync/internal/flagx"
)

// parseFlags overlays selected fields with command-line flags.
//
// Supported flags:
//
//	-limit int      number of recent activities to sync
//	-mode string    full | download_only | upload_only
//	-dry-run        download but never upload
//	-v              verbose logging (also enables upload debug logging)
//
// Only the flags handled here are parsed; the config-file flags are consumed
// separately by flagx.ConfigFileFlags.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-limit", "-mode", "-dry-run", "-v"})

	fs := flag.NewFlagSet("sync", flag.ContinueOnError)

	fs.IntVar(&cfg.Sync.Limit, "limit", cfg.Sync.Limit, "number of recent activities to sync")
	mode := fs.String("mode", string(cfg.Sync.Mode), "sync mode: full, download_only or upload_only")
	fs.BoolVar(&cfg.Sync.DryRun, "dry-run", cfg.Sync.DryRun, "skip uploads, record dry_run instead")
	fs.BoolVar(&cfg.Sync.Verbose, "v", cfg.Sync.Verbose, "verbose output")

	if err := fs.Parse(args); err != nil {
		return
	}
	cfg.Sync.Mode = Mode(*mode)
}
