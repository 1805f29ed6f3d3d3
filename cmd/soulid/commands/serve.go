package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"soulid/internal/app"
	"soulid/internal/platform/config"
	"soulid/internal/platform/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the registry HTTP API and event relay",
	Long: `Start the registry. The HTTP API listens on SOULID_ADDR; when
SOULID_KAFKA_BROKERS is set, committed registry events are relayed to
SOULID_KAFKA_TOPIC.

Examples:
  # In-memory registry for local development
  SOULID_BASE_URI=https://soul.example.org \
  SOULID_OPERATOR=0x00000000000000000000000000000000000000aa \
  SOULID_JWT_SIGNING_KEY=dev-key soulid serve

  # Postgres substrate, schema applied on start
  SOULID_STORAGE_BACKEND=postgres SOULID_POSTGRES_AUTO_MIGRATE=true soulid serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	log.InfoContext(ctx, "soulid starting",
		"version", Version,
		"storage_backend", cfg.Storage.Backend,
	)
	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Info("soulid stopped")
	return nil
}
