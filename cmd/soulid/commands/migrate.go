package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"soulid/internal/platform/config"
	"soulid/internal/platform/logger"
	"soulid/internal/platform/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply postgres schema migrations",
	Long: `Apply every pending migration to SOULID_POSTGRES_URL and report the
schema version. Only meaningful for the postgres storage backend.`,
	RunE: runMigrate,
}

var migrateStatus bool

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "Only print the applied schema version")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Postgres.URL == "" {
		return errors.New("SOULID_POSTGRES_URL is not set")
	}
	log := logger.New(cfg.Server.LogLevel)

	db, err := postgres.Open(cmd.Context(), cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	if !migrateStatus {
		if err := postgres.Migrate(db, log); err != nil {
			return err
		}
	}
	version, dirty, err := postgres.Version(db)
	if err != nil {
		return err
	}
	cmd.Printf("schema version %d (dirty: %t)\n", version, dirty)
	return nil
}
