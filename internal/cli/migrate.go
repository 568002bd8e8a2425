package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/keystone/internal/db"
)

func newMigrateCommand(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema in DB_DSN",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log := loadConfig(f)
			gdb, err := db.Connect(cfg.DBDSN)
			if err != nil {
				return err
			}
			if err := db.Migrate(gdb); err != nil {
				return err
			}
			log.Info("schema up to date", slog.String("dialect", gdb.Dialector.Name()))
			return nil
		},
	}
}
