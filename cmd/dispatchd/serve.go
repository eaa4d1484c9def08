package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"dispatchd/internal/api"
	"dispatchd/internal/config"
	"dispatchd/internal/domain"
	"dispatchd/internal/handlers"
	"dispatchd/internal/handlers/logsink"
	"dispatchd/internal/handlers/redisq"
	"dispatchd/internal/handlers/webhook"
	"dispatchd/internal/lifecycle"
	"dispatchd/internal/scheduler"
	"dispatchd/internal/worker"
)

func newServeCmd(f *rootFlags) *cobra.Command {
	var addr string
	var pprof bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher and its HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if cmd.Flags().Changed("pprof") {
				cfg.HTTP.Pprof = pprof
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP bind address (overrides http.addr)")
	cmd.Flags().BoolVar(&pprof, "pprof", false, "expose /debug/pprof")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	loc, err := scheduler.LoadZone(cfg.Scheduler.Timezone)
	if err != nil {
		return err
	}

	db, repo, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	router, closeChannels := buildRouter(cfg.Channels)
	defer closeChannels()

	pool := worker.NewPool(cfg.Worker.Size, cfg.Worker.RatePerSec, config.Duration(cfg.Worker.Timeout, 30*time.Second))
	engine := scheduler.NewEngine(repo, router, pool, scheduler.Options{
		Clock:          clockwork.NewRealClock(),
		Location:       loc,
		PersistTimeout: config.Duration(cfg.Scheduler.PersistTimeout, 5*time.Second),
		RecoverBackoff: worker.Backoff,
	})
	svc := lifecycle.New(repo, engine, engine.Clock(), loc)

	n, err := engine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover pending messages: %w", err)
	}
	log.Info().Int("armed", n).Str("tz", loc.String()).Msg("recovery complete")

	var sweeper *scheduler.Sweeper
	if every, _ := config.ParseDurationField("scheduler.sweep_interval", cfg.Scheduler.SweepInterval); every > 0 {
		if sweeper, err = scheduler.NewSweeper(engine, every); err != nil {
			return err
		}
		if err := sweeper.Start(ctx); err != nil {
			return fmt.Errorf("start sweep: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(svc, api.Options{Stats: engine, Store: repo, Debug: cfg.HTTP.Pprof}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("sd_notify ready")
	} else if ok {
		log.Debug().Msg("notified systemd readiness")
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	log.Info().Msg("shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if sweeper != nil {
		sweeper.Stop(shutdownCtx)
	}
	engine.Stop()
	pool.Stop(shutdownCtx)
	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// buildRouter wires the delivery channel for each configured recipient type.
// internal deliveries always go to the log.
func buildRouter(c config.ChannelsConfig) (handlers.Router, func()) {
	r := handlers.Router{
		domain.RecipientInternal: logsink.Sink{Logger: log.Logger},
	}
	if c.Email != nil {
		r[domain.RecipientEmail] = webhook.New("email", c.Email.URL, c.Email.Headers, config.Duration(c.Email.Timeout, 10*time.Second))
	}
	if c.SMS != nil {
		r[domain.RecipientSMS] = webhook.New("sms", c.SMS.URL, c.SMS.Headers, config.Duration(c.SMS.Timeout, 10*time.Second))
	}
	closeFn := func() {}
	if c.Push != nil {
		q := redisq.New(c.Push.Addr, c.Push.Password, c.Push.DB, c.Push.Key)
		r[domain.RecipientPush] = q
		closeFn = func() {
			if err := q.Close(); err != nil {
				log.Warn().Err(err).Msg("close redis client")
			}
		}
	}
	return r, closeFn
}
