package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"courseledger/internal/infrastructure/auth"
	"courseledger/internal/infrastructure/metrics"
	"courseledger/internal/infrastructure/scheduler"
	"courseledger/internal/interfaces/cli/app"
	httpRouter "courseledger/internal/interfaces/http"
	"courseledger/internal/interfaces/http/handlers"
	"courseledger/internal/interfaces/http/middleware"
	"courseledger/internal/shared/clock"
	"courseledger/internal/shared/goroutine"
	"courseledger/internal/shared/logger"
	"courseledger/internal/shared/version"
)

var configPath string

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the HTTP server",
		Long:  `Start the HTTP API together with the reconcile scheduler and the index event subscriber.`,
		RunE:  run,
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./configs/config.yaml)")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, log, err := app.Bootstrap(configPath)
	if err != nil {
		return err
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required to serve the API")
	}

	log.Infow("starting server",
		"version", version.String(),
		"mode", cfg.Server.Mode,
		"journal", cfg.Database.Enabled(),
		"event_bus", cfg.Redis.Enabled(),
	)

	gin.SetMode(cfg.Server.Mode)
	gin.DefaultWriter = io.Discard
	metrics.Register(prometheus.DefaultRegisterer)

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recovered, err := a.Recover(ctx)
	if err != nil {
		log.Errorw("journal recovery failed", "error", err)
	} else if recovered > 0 {
		log.Infow("recovered pending operations", "count", recovered)
	}

	goroutine.SafeGo(log, "index-event-subscriber", func() {
		if err := a.SubscribeIndexEvents(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("index event subscriber exited", "error", err)
		}
	})

	sched, err := newScheduler(a, log)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Warnw("failed to stop scheduler", "error", err)
		}
	}()

	var rateLimiter *middleware.RateLimiter
	if a.Limiter != nil {
		rateLimiter = middleware.NewRateLimiter(a.Limiter, a.MutationLimits(), log)
	}

	router := httpRouter.NewRouter(httpRouter.Handlers{
		Health:      handlers.NewHealthHandler(version.String()),
		License:     handlers.NewLicenseHandler(a.Licenses, log.Named("http")),
		Course:      handlers.NewCourseHandler(a.Progress, a.Index, log.Named("http")),
		Certificate: handlers.NewCertificateHandler(a.Credentials, log.Named("http")),
		Content:     handlers.NewContentHandler(a.Access, log.Named("http")),
		Pricing:     handlers.NewPricingHandler(a.Pricing, log.Named("http")),
		Operation:   handlers.NewOperationHandler(a.Coordinator, log.Named("http")),
	}, middleware.NewAuthMiddleware(auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer), log), rateLimiter, log)
	router.SetupRoutes()

	srv := &http.Server{
		Addr:         cfg.Server.GetAddr(),
		Handler:      router.Engine(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infow("server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Infow("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
		return err
	}

	log.Infow("server exited gracefully")
	return nil
}

func newScheduler(a *app.App, log logger.Interface) (*scheduler.SchedulerManager, error) {
	cfg := a.Config
	sched, err := scheduler.NewSchedulerManager(clock.Real(), log)
	if err != nil {
		return nil, err
	}
	if err := sched.RegisterReconcileSweep(a.Coordinator, cfg.Reconcile.SweepInterval); err != nil {
		return nil, err
	}
	if a.Journal != nil {
		if err := sched.RegisterJournalPrune(a.Journal, cfg.Reconcile.JournalRetention); err != nil {
			return nil, err
		}
	}
	if err := sched.RegisterAnalyticsWarmup(a.Index, a.CatalogResources(), cfg.Index.AnalyticsWarmup); err != nil {
		return nil, err
	}
	return sched, nil
}
