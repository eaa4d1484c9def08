package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"dispatchd/internal/config"
	"dispatchd/internal/store"
)

type rootFlags struct {
	configPath string
	dbPath     string
	logLevel   string
	timezone   string
}

func newRootCmd() *cobra.Command {
	var f rootFlags
	cmd := &cobra.Command{
		Use:           "dispatchd",
		Short:         "One-shot scheduled message dispatcher",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&f.dbPath, "db", "", "SQLite DB path (overrides storage.path)")
	cmd.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "log level (overrides logging.level)")
	cmd.PersistentFlags().StringVar(&f.timezone, "tz", "", "reference time zone (overrides scheduler.timezone)")

	cmd.AddCommand(newServeCmd(&f))
	cmd.AddCommand(newDueCmd(&f))
	return cmd
}

// load reads the config file and applies command line overrides.
func (f *rootFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.dbPath != "" {
		cfg.Storage.Path = f.dbPath
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.timezone != "" {
		cfg.Scheduler.Timezone = f.timezone
	}
	setupLogging(cfg.Logging)
	return cfg, nil
}

func setupLogging(c config.LoggingConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.Level)))
	if err != nil || c.Level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if c.Console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func openStore(cfg config.Config) (*sql.DB, store.Repository, error) {
	db, err := store.Open(cfg.Storage.Path, config.Duration(cfg.Storage.BusyTimeout, 5*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return db, store.NewSQLiteRepo(db), nil
}
