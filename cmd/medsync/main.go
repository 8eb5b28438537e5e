package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/fleetmed/medsync/internal/app"
	"github.com/fleetmed/medsync/internal/archive"
	"github.com/fleetmed/medsync/internal/export"
	"github.com/fleetmed/medsync/internal/ledger"
	"github.com/fleetmed/medsync/internal/reconcile"
	"github.com/fleetmed/medsync/internal/summary"
	"github.com/fleetmed/medsync/internal/syncer"
	"github.com/fleetmed/medsync/jobs"
)

func main() {
	var cmdRoot = &cobra.Command{
		Use:   "medsync",
		Short: "Ambulance medicine ledger",
		Long:  `Run the medicine ledger API, its background worker and maintenance commands`,
	}
	cmdRoot.AddCommand(cmdServe())
	cmdRoot.AddCommand(cmdWorker())
	cmdRoot.AddCommand(cmdCompile())
	cmdRoot.AddCommand(cmdRollover())
	cmdRoot.AddCommand(cmdUpload())
	cmdRoot.AddCommand(cmdExport())
	cmdRoot.AddCommand(cmdImport())
	cmdRoot.AddCommand(cmdArchive())
	cmdRoot.AddCommand(cmdJobs())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmdRoot.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func cmdServe() *cobra.Command {
	var cmd = &cobra.Command{
		Use:          "serve",
		Short:        "run the HTTP API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.InTestMode() {
				slog.Default().Info("test mode detected, skipping server startup")
				return nil
			}
			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()

			s, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var jobHandler app.Mounter = jobs.NewHandler(nil, s.logger)
			if opts, err := s.redisOpts(); err == nil {
				inspector := asynq.NewInspector(opts)
				defer func() { _ = inspector.Close() }()
				jobHandler = jobs.NewHandler(inspector, s.logger)
			}

			router := app.NewRouter(app.RouterParams{
				Logger:  s.logger,
				Config:  s.cfg,
				Metrics: s.metrics,
				API: []app.Mounter{
					ledger.NewHandler(s.ledger, s.catalog.Medicines, s.cfg.Today, s.logger),
					summary.NewHandler(s.summary, func() time.Time { return time.Now().In(s.cfg.Location()) }, s.logger),
					archive.NewHandler(s.archive, s.logger),
					syncer.NewHandler(s.syncer, s.logger),
					export.NewHandler(s.export, s.logger),
					reconcile.NewHandler(s.compiler, s.cfg.Today, s.logger),
				},
				JobHandler: jobHandler,
			})

			server := &http.Server{
				Addr:         s.cfg.AppAddr,
				Handler:      router,
				ReadTimeout:  s.cfg.AppReadTimeout,
				WriteTimeout: s.cfg.AppWriteTimeout,
			}

			go func() {
				s.logger.Info("starting http server", slog.String("addr", s.cfg.AppAddr))
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					s.logger.Error("http server", slog.Any("error", err))
					stop()
				}
			}()

			<-ctx.Done()
			s.logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("graceful shutdown", slog.Any("error", err))
			}
			return nil
		},
	}
	return cmd
}

func cmdWorker() *cobra.Command {
	var cmd = &cobra.Command{
		Use:          "worker",
		Short:        "run the background job worker and scheduler",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.InTestMode() {
				slog.Default().Info("test mode detected, skipping worker startup")
				return nil
			}
			s, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			opts, err := s.redisOpts()
			if err != nil {
				return err
			}

			cron, err := jobs.DefaultSchedule.Cron()
			if err != nil {
				return err
			}
			worker, err := jobs.NewWorker(jobs.WorkerConfig{
				RedisOpts: opts,
				Logger:    s.logger,
				Handlers:  s.ledgerJobs().Handlers(),
				Cron:      cron,
				Location:  s.cfg.Location(),
			})
			if err != nil {
				return err
			}

			s.logger.Info("worker starting", slog.String("redis", opts.Addr), slog.String("timezone", s.cfg.Timezone))
			if err := worker.Run(cmd.Context()); err != nil && err != context.Canceled {
				s.logger.Error("worker stopped", slog.Any("error", err))
				return err
			}
			s.logger.Info("worker shutdown complete")
			return nil
		},
	}
	return cmd
}
