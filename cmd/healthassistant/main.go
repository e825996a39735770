package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/healthassistant/backend/internal/config"
	"github.com/healthassistant/backend/internal/logging"
	"github.com/healthassistant/backend/internal/store/chatstore"
)

type rootOptions struct {
	configFile string
	dbPath     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "healthassistant",
		Short: "Session-scoped health assistant chat backend",
		Long: `Serve the health assistant chat API, or inspect and purge the
conversation history it stores.

Running without a subcommand starts the server.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Optional YAML config file (environment variables take precedence)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides DB_PATH)")

	root.AddCommand(newServeCmd(opts), newHistoryCmd(opts), newPurgeCmd(opts))
	return root
}

// loadConfig reads the configuration and installs the global logger.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.dbPath != "" {
		cfg.Store.Driver = config.StoreDriverSQLite
		cfg.Store.Path = opts.dbPath
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openStore(cfg config.StoreConfig) (chatstore.Store, error) {
	if cfg.Driver == config.StoreDriverMemory {
		log.Warn().Msg("using in-memory chat store; history is lost on restart")
		return chatstore.NewInMemoryStore(), nil
	}

	dsn, err := chatstore.SQLiteDSNForFile(cfg.Path)
	if err != nil {
		return nil, err
	}
	return chatstore.NewSQLiteStore(dsn)
}
