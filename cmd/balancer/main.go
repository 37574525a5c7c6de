package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/baicaiyihao/quant/internal/balancer"
	"github.com/baicaiyihao/quant/internal/config"
	"github.com/baicaiyihao/quant/internal/domain"
	"github.com/baicaiyihao/quant/internal/handler"
	"github.com/baicaiyihao/quant/internal/registry"
	"github.com/baicaiyihao/quant/internal/transport"
	"github.com/baicaiyihao/quant/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting RPC balancer")

	policy := cfg.TrackerPolicy()
	descriptors := cfg.EndpointDescriptors(os.Environ())

	reg, err := registry.Load(descriptors, policy, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to load endpoint registry")
	}

	log.WithFields(map[string]interface{}{
		"strategy":              cfg.Balancer.Strategy,
		"endpoints":             reg.Len(),
		"health_check_interval": cfg.HealthCheck.Interval.String(),
		"call_timeout":          cfg.Balancer.CallTimeout.String(),
	}).Info("Balancer configuration loaded")

	rpcTransport := transport.NewJSONRPC(cfg.HealthCheck.ProbeMethod, log)
	tracker := balancer.NewFailureTracker(policy, log)
	monitor := balancer.NewHealthMonitor(balancer.HealthMonitorConfig{
		Interval:     cfg.HealthCheck.Interval,
		ProbeTimeout: cfg.HealthCheck.ProbeTimeout,
		ProbesPerSec: cfg.HealthCheck.ProbesPerSec,
		ProbeBurst:   cfg.HealthCheck.ProbeBurst,
	}, reg, rpcTransport, policy, log)

	b, err := balancer.New(balancer.Config{
		Strategy:            domain.StrategyName(cfg.Balancer.Strategy),
		CallTimeout:         cfg.Balancer.CallTimeout,
		MaxFailoverAttempts: cfg.Balancer.MaxFailoverAttempts,
	}, reg, rpcTransport, tracker, monitor, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create balancer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := b.Start(ctx); err != nil {
		log.WithError(err).Fatal("Failed to start balancer")
	}

	var controlServer *http.Server
	if cfg.Control.Enabled {
		router := mux.NewRouter()
		handler.NewControlHandler(b, log).RegisterRoutes(router)

		controlServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Control.Port),
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			log.Infof("Control API listening on :%d", cfg.Control.Port)
			if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("Control API server failed")
			}
		}()
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("Received signal %v, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if controlServer != nil {
		if err := controlServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Control API shutdown failed")
		}
	}
	if err := b.Stop(); err != nil {
		log.WithError(err).Error("Balancer stop failed")
	}

	log.Info("Shutdown complete")
}
