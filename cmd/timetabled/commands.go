package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"timetabled/internal/alerts"
	"timetabled/internal/api"
	"timetabled/internal/config"
	"timetabled/internal/metrics"
	"timetabled/internal/sms"
	"timetabled/internal/timetable"
)

func newScheduler(cfg *config.Config, repo timetable.Repository, sender sms.Sender, m *metrics.Collector) (*alerts.Scheduler, error) {
	return alerts.NewScheduler(repo, repo, sender, alerts.Options{
		Tick:       cfg.Tick,
		Tolerance:  cfg.Tolerance,
		Location:   cfg.Location,
		Intervals:  cfg.AlertIntervals,
		Metrics:    m,
		Deliveries: repo,
	})
}

func serveCmd(v *viper.Viper, getCfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the alert scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getCfg()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, repo, err := openDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			sender, err := newSender(cfg.SMS)
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			collector := metrics.NewCollector(reg)

			sched, err := newScheduler(cfg, repo, sender, collector)
			if err != nil {
				return err
			}
			if cfg.AutostartScheduler {
				sched.Start(ctx)
			}

			srv := &http.Server{
				Addr: cfg.HTTPAddr,
				Handler: api.NewServer(api.Deps{
					Repo:             repo,
					Scheduler:        sched,
					Metrics:          collector,
					BaseContext:      ctx,
					CORSAllowOrigins: cfg.CORSAllowOrigins,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", cfg.HTTPAddr).Str("timezone", cfg.Location.String()).Msg("HTTP server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				sched.Stop()
				return fmt.Errorf("http server: %w", err)
			}

			log.Info().Msg("shutting down")
			sched.Stop()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", "", "HTTP bind address (HTTP_ADDR)")
	cmd.Flags().Bool("autostart", true, "start the alert scheduler with the server (AUTOSTART_SCHEDULER)")
	_ = v.BindPFlag("HTTP_ADDR", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("AUTOSTART_SCHEDULER", cmd.Flags().Lookup("autostart"))
	return cmd
}

func importCmd(getCfg func() *config.Config) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load class sessions from a YAML timetable file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			sessions, err := timetable.DecodeImport(f)
			if err != nil {
				return err
			}

			db, repo, err := openDB(getCfg().DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			created, err := repo.CreateSessions(cmd.Context(), sessions)
			if err != nil {
				return fmt.Errorf("import %s: %w", file, err)
			}
			log.Info().Str("file", file).Int("sessions", len(created)).Msg("timetable imported")
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "timetable.yaml", "timetable file")
	return cmd
}

func sendCmd(getCfg func() *config.Config) *cobra.Command {
	var (
		to      []string
		message string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a one-off message, to every active student unless --to is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return errors.New("--message is required")
			}
			cfg := getCfg()
			db, repo, err := openDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			sender, err := newSender(cfg.SMS)
			if err != nil {
				return err
			}
			sched, err := newScheduler(cfg, repo, sender, nil)
			if err != nil {
				return err
			}
			res, err := sched.SendCustomMessage(cmd.Context(), message, to)
			if err != nil {
				return err
			}
			log.Info().Str("detail", res.Detail).Msg("message sent")
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&to, "to", nil, "recipient phone numbers")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message text")
	return cmd
}

// tickCmd runs a single scheduler pass, for deployments that drive alerts
// from an external cron instead of a long-running process. Without a
// persisted sent-set the external schedule must not land two runs in one
// alert window.
func tickCmd(getCfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one alert check and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getCfg()
			db, repo, err := openDB(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			sender, err := newSender(cfg.SMS)
			if err != nil {
				return err
			}
			sched, err := newScheduler(cfg, repo, sender, nil)
			if err != nil {
				return err
			}
			r := sched.CheckAndFire(cmd.Context())
			log.Info().
				Str("day", r.Day).
				Int("sessions", r.Sessions).
				Int("recipients", r.Recipients).
				Int("fired", r.Fired).
				Int("failed", r.Failed).
				Str("skipped", r.Skipped).
				Msg("tick complete")
			if r.Failed > 0 {
				return fmt.Errorf("%d alerts failed", r.Failed)
			}
			return nil
		},
	}
}
