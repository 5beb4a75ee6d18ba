package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/intake/internal/adapter/agents"
	"github.com/careloop/intake/internal/config"
	"github.com/careloop/intake/internal/logging"
	"github.com/careloop/intake/internal/metrics"
	"github.com/careloop/intake/internal/policy"
	"github.com/careloop/intake/internal/service"
	"github.com/careloop/intake/internal/store"
	transport "github.com/careloop/intake/internal/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting intake orchestrator",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("store_driver", cfg.StoreDriver),
		zap.Duration("agent_timeout", cfg.AgentTimeout))

	m := metrics.New()

	var st store.Store
	var memStore *store.MemoryStore
	switch cfg.StoreDriver {
	case "sqlite":
		st, err = store.NewSQLiteStore(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("failed to initialize store", zap.Error(err))
		}
	default:
		memStore = store.NewMemoryStore()
		st = memStore
	}
	defer st.Close()

	gateway := agents.NewClient(agents.Endpoints{
		Interview:       cfg.InterviewAgentURL,
		Diagnosis:       cfg.DiagnosisAgentURL,
		SecondInterview: cfg.SecondInterviewAgentURL,
		FinalReport:     cfg.FinalReportAgentURL,
	}, cfg.AgentTimeout, m)

	ctx := context.Background()
	screener, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		logger.Fatal("failed to initialize policy engine", zap.Error(err))
	}

	svc := service.New(st, gateway, logger, cfg.PhaseMessageLimit,
		service.WithScreener(screener), service.WithRecorder(m))

	e := transport.NewServer(svc, logger)

	// Idle-session eviction only applies to the in-memory store; the
	// durable store keeps sessions until operators clear them.
	sweeperDone := make(chan struct{})
	if memStore != nil && cfg.SessionTTL > 0 {
		go func() {
			ticker := time.NewTicker(cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if n := memStore.EvictIdle(time.Now().Add(-cfg.SessionTTL)); n > 0 {
						logger.Info("evicted idle sessions", zap.Int("count", n))
					}
				case <-sweeperDone:
					return
				}
			}
		}()
	}

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()
	logger.Info("intake API started", zap.Int("port", cfg.HTTPPort))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	close(sweeperDone)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", zap.Error(err))
	}
	logger.Info("intake orchestrator stopped")
}
