package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fyerfyer/doc-ingest/api"
	"github.com/fyerfyer/doc-ingest/api/handler"
	"github.com/fyerfyer/doc-ingest/config"
	"github.com/fyerfyer/doc-ingest/internal/models"
	"github.com/fyerfyer/doc-ingest/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// shutdownTimeout 优雅退出的最长等待时间
const shutdownTimeout = 30 * time.Second

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard and the periodic scanner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, load)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	cfg := a.cfg
	logger := a.logger
	gin.SetMode(cfg.Server.Mode)

	// 定时扫描与后台扫描共用此上下文，收到退出信号后在文档之间停止
	scheduler := services.NewScheduler(a.scanner, cfg.Scan.Interval, cfg.Scan.AutoStart, logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	scanHandler := handler.NewScanHandler(ctx, a.scanner, scheduler)
	defer scanHandler.Wait()

	router := api.SetupRouter(api.Handlers{
		Dashboard: handler.NewDashboardHandler(a.dashboard(scheduler), api.IndexPage),
		Documents: handler.NewDocumentHandler(services.NewDocumentService(a.source, a.scanner, logger)),
		Scans:     scanHandler,
		Search: handler.NewSearchHandler(services.NewSearchService(
			a.embedder, a.store, cfg.Search.DefaultTopK, cfg.Search.MinScore, logger,
		)),
	}, cfg.Server.CORS)

	if cfg.Scan.OnStartup {
		if err := scanHandler.Start(models.TriggerSchedule); err != nil {
			logger.WithError(err).Warn("Startup scan not started")
		}
	}

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":          server.Addr,
			"scan_interval": cfg.Scan.Interval.String(),
			"auto_scan":     cfg.Scan.AutoStart,
		}).Info("Dashboard listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
		return err
	}
	logger.Info("Server exited properly")
	return nil
}
