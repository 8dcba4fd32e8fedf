package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/fitsync/internal/browserlogin"
	"github.com/dmitrijs2005/fitsync/internal/config"
	"github.com/dmitrijs2005/fitsync/internal/garmin"
	"github.com/dmitrijs2005/fitsync/internal/logging"
	"github.com/dmitrijs2005/fitsync/internal/state"
	"github.com/dmitrijs2005/fitsync/internal/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewZerologLogger(os.Stderr, false).Error("config", "error", err)
		os.Exit(1)
	}

	log := logging.NewZerologLogger(os.Stdout, cfg.Sync.Verbose).
		With("run_id", uuid.NewString())

	if err := cfg.PromptMissingSecrets(); err != nil {
		log.Error("prompt", "error", err)
		os.Exit(1)
	}

	agent := browserlogin.NewAgent(log)

	source, err := garmin.New(cfg.China.BaseURL, cfg.China.Auth, cfg.China.Headers, agent, log.With("region", "china"))
	if err != nil {
		log.Error("build source client", "error", err)
		os.Exit(1)
	}
	dest, err := garmin.New(cfg.Global.BaseURL, cfg.Global.Auth, cfg.Global.Headers, agent, log.With("region", "global"))
	if err != nil {
		log.Error("build destination client", "error", err)
		os.Exit(1)
	}

	store := state.Load(cfg.Sync.StatePath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := syncer.New(cfg, source, dest, store, log).Run(ctx); err != nil {
		log.Error("sync failed", "error", err)
		os.Exit(1)
	}
}
