package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/groombot/groom/internal/celebrate"
	"github.com/groombot/groom/internal/config"
	"github.com/groombot/groom/internal/eventbus"
	"github.com/groombot/groom/internal/preview"
	"github.com/groombot/groom/internal/reconcile"
	"github.com/groombot/groom/internal/registry"
	"github.com/groombot/groom/internal/remind"
	"github.com/groombot/groom/internal/split"
	"github.com/groombot/groom/internal/telemetry"
	"github.com/groombot/groom/internal/templates"
	"github.com/groombot/groom/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := slog.Default()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := telemetry.Init(ctx, "groom", version); err != nil {
		log.Warn("telemetry disabled", "err", err)
	}
	defer func() {
		if err := telemetry.Shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown", "err", err)
		}
	}()

	store := config.NewStore(cfg)
	cfg.Watch(store, log)
	reg := registry.New(store)

	bus := eventbus.New(log)
	defer bus.Close()

	bus.Subscribe(reconcile.NewLabelHandler(reg, log))
	bus.Subscribe(reconcile.NewChecklistHandler(reg, bus, log))
	bus.Subscribe(reconcile.NewStateHandler(reg, log))
	bus.Subscribe(split.NewOrchestrator(reg, log))
	bus.Subscribe(remind.NewTopicLabelHandler(store, reg, bus, log))
	bus.Subscribe(remind.NewTestPlanHandler(reg, bus, log))
	bus.Subscribe(celebrate.NewHandler(store, reg, log))
	bus.Subscribe(preview.NewHandler(reg, log))

	var set *templates.Set
	if cfg.TemplatesDir != "" {
		if set, err = templates.Load(cfg.TemplatesDir); err != nil {
			return err
		}
	}

	srv := webhook.NewServer(webhook.ServerConfig{
		Store:     store,
		Bus:       bus,
		Templates: set,
		Log:       log,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Listen) }()
	log.Info("listening", "addr", cfg.Listen)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("server shutdown", "err", err)
		}
	}
	return nil
}
