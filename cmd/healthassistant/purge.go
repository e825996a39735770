package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/healthassistant/backend/internal/config"
)

func newPurgeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <session-id>",
		Short: "Delete the stored messages of a session",
		Long: `Delete the durable rows of a session. A running server keeps its
in-memory context until the session is reset or evicted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Store.Driver != config.StoreDriverSQLite {
				return fmt.Errorf("purge requires the sqlite store")
			}
			store, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.DeleteBySession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d messages from session %s\n", n, args[0])
			return nil
		},
	}
}
