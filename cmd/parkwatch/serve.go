package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"parkwatch/internal/db"
	"parkwatch/internal/eventlog"
	"parkwatch/internal/evidence"
	httphandler "parkwatch/internal/http"
	"parkwatch/internal/pipeline"
	"parkwatch/internal/reconciler"
	"parkwatch/internal/repository"
	"parkwatch/internal/service"
	"parkwatch/internal/verifier"
	"parkwatch/internal/vision"
)

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the frame pipeline, store reconciler, verifier and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(*configFlag)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			gdb, err := db.Open(cfg.Database)
			if err != nil {
				return err
			}
			repo := repository.NewVehicleRepository(gdb)

			eventWriter, err := eventlog.NewWriter(cfg.EventLog.Path, cfg.EventLog.CoalesceWindow, log)
			if err != nil {
				return err
			}
			eventReader := eventlog.NewReader(cfg.EventLog.Path, log)
			offsets := eventlog.NewOffsetStore(cfg.EventLog.OffsetPath)

			evidenceWriter, err := evidence.NewWriter(cfg.Evidence.Dir, log)
			if err != nil {
				return err
			}

			frames := pipeline.NewFrameQueue(cfg.Pipeline.QueueSize)
			processor := pipeline.NewProcessor(pipeline.Params{
				FrameRate:          cfg.Pipeline.FrameRate,
				ConfidenceFloor:    cfg.Pipeline.ConfidenceFloor,
				ParkingThreshold:   cfg.Pipeline.ParkingThreshold,
				MinParkingDuration: cfg.Pipeline.MinParkingDuration,
				LostTolerance:      cfg.Pipeline.LostTolerance,
				StabilityMaxShift:  cfg.Pipeline.StabilityMaxShift,
				IoUThreshold:       cfg.Pipeline.IoUThreshold,
			}, evidenceWriter, eventWriter, log)

			storeReconciler := reconciler.New(eventReader, offsets, repo, cfg.Reconciler.Interval, log)

			classifier := vision.NewClient(cfg.Verifier.APIKey,
				vision.WithBaseURL(cfg.Verifier.BaseURL),
				vision.WithModel(cfg.Verifier.Model))
			violationVerifier := verifier.New(repo, classifier,
				cfg.Verifier.Interval, cfg.Verifier.Timeout, cfg.Verifier.DeleteConfirmed, log)

			vehicleService := service.NewVehicleService(repo, log)
			handler := httphandler.NewHandler(vehicleService, cfg, evidenceWriter.Dir(), frames, log)

			gin.SetMode(gin.ReleaseMode)
			engine := gin.New()
			engine.Use(gin.Recovery())
			handler.Register(engine, httphandler.NewAuthMiddleware(cfg.Auth))

			server := &http.Server{
				Addr:    cfg.Server.Addr(),
				Handler: engine,
			}

			var wg sync.WaitGroup
			wg.Add(3)
			go func() { defer wg.Done(); processor.Run(ctx, frames) }()
			go func() { defer wg.Done(); storeReconciler.Run(ctx) }()
			go func() { defer wg.Done(); violationVerifier.Run(ctx) }()

			wg.Add(1)
			go func() {
				defer wg.Done()
				runMaintenance(ctx, eventWriter, evidenceWriter, cfg.Evidence.MaxAge, log)
			}()

			go func() {
				log.Info().Str("addr", cfg.Server.Addr()).Msg("http server started")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("http server failed")
					stop()
				}
			}()

			<-ctx.Done()
			log.Info().Msg("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("http server shutdown failed")
			}
			wg.Wait()
			return nil
		},
	}
}

// runMaintenance rotates the event log at local midnight and prunes evidence
// files hourly.
func runMaintenance(ctx context.Context, events *eventlog.Writer, evid *evidence.Writer, maxAge time.Duration, log zerolog.Logger) {
	hourly := time.NewTicker(time.Hour)
	defer hourly.Stop()
	midnight := time.NewTimer(untilMidnight(time.Now()))
	defer midnight.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-hourly.C:
			if _, err := evid.CleanOld(maxAge, now); err != nil {
				log.Warn().Err(err).Msg("evidence cleanup failed")
			}
		case now := <-midnight.C:
			if err := events.Rotate(now); err != nil {
				log.Error().Err(err).Msg("event log rotation failed")
			}
			midnight.Reset(untilMidnight(now))
		}
	}
}

func untilMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now)
}
