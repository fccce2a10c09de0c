// Command timetabled serves the timetable API and texts students before
// each class.
//
// Usage:
//
//	timetabled serve --addr :8080
//	timetabled import -f timetable.yaml
//	timetabled send --to 0712345678 --message "Lab moved to room 4"
//	timetabled tick
package main

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"timetabled/internal/config"
	"timetabled/internal/sms"
	"timetabled/internal/timetable"
)

func main() {
	v := config.New()
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "timetabled",
		Short:         "School timetable service with SMS class alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			var err error
			if cfg, err = config.Load(v); err != nil {
				return err
			}
			setupLogging(cfg)
			return nil
		},
	}
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().String("db", "", "SQLite database path (DB_PATH)")
	root.PersistentFlags().String("log-level", "", "log level (LOG_LEVEL)")
	_ = v.BindPFlag("DB_PATH", root.PersistentFlags().Lookup("db"))
	_ = v.BindPFlag("LOG_LEVEL", root.PersistentFlags().Lookup("log-level"))

	getCfg := func() *config.Config { return cfg }
	root.AddCommand(serveCmd(v, getCfg))
	root.AddCommand(importCmd(getCfg))
	root.AddCommand(sendCmd(getCfg))
	root.AddCommand(tickCmd(getCfg))

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("timetabled failed")
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func openDB(path string) (*sql.DB, timetable.Repository, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := timetable.EnsureSchema(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, timetable.NewSQLiteRepo(db), nil
}

func newSender(cfg config.SMS) (sms.Sender, error) {
	if cfg.Driver == config.DriverConsole {
		log.Warn().Msg("SMS_DRIVER=console, messages are logged and not delivered")
		return sms.NewConsole(log.Logger), nil
	}
	return sms.NewAfricasTalking(sms.Config{
		APIKey:        cfg.APIKey,
		Username:      cfg.Username,
		SenderID:      cfg.SenderID,
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
	})
}
