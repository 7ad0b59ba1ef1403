package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/bootstrap"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/config"
	"github.com/jcmexdev/storefront-checkout/internal/pkg/telemetry"
	"github.com/jcmexdev/storefront-checkout/internal/worker"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg, err := config.Load("order-reaper")
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := telemetry.InitLogger(cfg.LogLevel)

	// intents created by another process are unknown to the mock, and an
	// in-memory store is empty here
	if cfg.PaymentProvider != config.ProviderHTTP || cfg.OrderStore == config.StoreMemory {
		logger.Error("the reaper needs a shared order store and the http payment provider",
			"store", cfg.OrderStore, "provider", cfg.PaymentProvider)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint, cfg.DeploymentEnv)
	if err != nil {
		logger.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	svc, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to wire checkout service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	reaper := worker.NewReaper(svc.Orders, svc.Coordinator, cfg.ReaperInterval, cfg.ReaperStaleAfter,
		worker.WithReaperLogger(logger))
	if *once {
		n, err := reaper.RunOnce(ctx)
		if err != nil {
			logger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		logger.Info("sweep finished", "resolved", n)
		return
	}
	reaper.Run(ctx)
}
