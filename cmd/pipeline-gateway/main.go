package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agencyops/pipeline-sagas/internal/coordinator"
	ledgersqlite "github.com/agencyops/pipeline-sagas/internal/coordinator/runledger/sqlite"
	"github.com/agencyops/pipeline-sagas/internal/delivery"
	"github.com/agencyops/pipeline-sagas/internal/eventbus"
	"github.com/agencyops/pipeline-sagas/internal/gateway/httpx"
	"github.com/agencyops/pipeline-sagas/internal/onboarding"
	"github.com/agencyops/pipeline-sagas/internal/pipeline"
	"github.com/agencyops/pipeline-sagas/internal/pkg/cache"
	"github.com/agencyops/pipeline-sagas/internal/pkg/telemetry"
	"github.com/agencyops/pipeline-sagas/internal/production"
	"github.com/agencyops/pipeline-sagas/internal/qc"
	"github.com/agencyops/pipeline-sagas/internal/strategy"
)

func main() {
	telemetry.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "pipeline-gateway"))
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	ledger, err := ledgersqlite.Open(getEnv("RUNS_DB_PATH", "pipeline_runs.db"))
	if err != nil {
		slog.Error("failed to open run ledger", "error", err)
		os.Exit(1)
	}
	defer ledger.Close()

	redisAddr := getEnv("REDIS_ADDR", "redis-cache:6379")
	runCache := cache.NewRedisCache(redisAddr, "pipeline")

	onboardingSvc := onboarding.NewService()
	strategySvc := strategy.NewService()
	productionSvc := production.NewService()
	qcSvc := qc.NewService()
	deliverySvc := delivery.NewService()

	bus := eventbus.New()
	coord := coordinator.New(bus)

	workflow := pipeline.NewWorkflow(coord, ledger, bus, pipeline.Stages{
		Onboarding:      onboardingSvc,
		OnboardingStore: onboardingSvc,
		Strategy:        strategySvc,
		StrategyStore:   strategySvc,
		Production:      productionSvc,
		ProductionStore: productionSvc,
		QC:              qcSvc,
		QCStore:         qcSvc,
		Delivery:        deliverySvc,
		DeliveryStore:   deliverySvc,
	}, pipeline.Config{
		WorkerID:      getEnv("WORKER_ID", hostnameWorkerID()),
		LeaseDuration: 2 * time.Minute,
	})

	handler := httpx.NewHandler(workflow, ledger, runCache)
	router := httpx.NewRouter(handler)

	addr := ":" + getEnv("PORT", "8080")
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
	}()

	slog.Info("pipeline gateway running", "addr", addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func hostnameWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		return "pipeline-gateway"
	}
	return "pipeline-gateway-" + host
}
