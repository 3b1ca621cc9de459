// The piiscan-service binary runs the PII scanning service: it loads
// configuration, wires the scan pipeline, and serves the REST surface until
// terminated.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/dbsentinel/piiscan/internal/config"
	"github.com/dbsentinel/piiscan/internal/database"
	"github.com/dbsentinel/piiscan/internal/server"
	"github.com/dbsentinel/piiscan/pkg/audit"
	"github.com/dbsentinel/piiscan/pkg/metrics"
	"github.com/dbsentinel/piiscan/pkg/scan"
	"github.com/dbsentinel/piiscan/pkg/scan/detection"
	"github.com/dbsentinel/piiscan/pkg/scan/jobstore"
	"github.com/dbsentinel/piiscan/pkg/scan/nerclient"
	"github.com/dbsentinel/piiscan/pkg/scan/orchestrator"
	"github.com/dbsentinel/piiscan/pkg/scan/progress"
	"github.com/dbsentinel/piiscan/pkg/scan/report"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the service configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithField("error", err).Fatal("Failed to load configuration")
	}

	log := newLogger(cfg.Logging)

	provider := database.NewProvider(cfg.Connections, log)
	defer provider.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	var nerClient scan.NerClient
	if cfg.Ner.URL != "" {
		nerClient = nerclient.NewClient(cfg.Ner)
	}
	nerStrategy := detection.NewNerStrategy(nerClient, cfg.Ner, log)
	nerStrategy.SetStateObserver(func(state gobreaker.State) {
		m.NerBreakerState.Set(float64(state))
	})
	strategies := []detection.Strategy{
		detection.NewHeuristicStrategy(),
		detection.NewRegexStrategy(),
		nerStrategy,
	}

	auditor := buildAuditor(cfg.Audit, log)
	store, closeStore := buildStore(cfg.JobStore, log)
	defer closeStore()

	bus := progress.NewBus()
	bus.OnDrop(m.EventsDropped.Inc)
	orch, err := orchestrator.New(provider, strategies, bus, log, orchestrator.Options{
		Store:   store,
		Auditor: auditor,
		Metrics: m,
	})
	if err != nil {
		log.WithField("error", err).Fatal("Failed to build orchestrator")
	}
	if err := orch.RestoreJobs(context.Background()); err != nil {
		log.WithField("error", err).Warn("Failed to restore persisted jobs")
	}

	defaults := scan.ScanRequest{
		Sampling:  cfg.Sampling,
		Detection: cfg.Detection,
		Qi:        cfg.Qi,
	}
	srv := server.New(orch, report.NewRegistry(), auditor, defaults, registry, cfg.Server.MetricsPath, log)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", httpServer.Addr).Info("PII scan service listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Fatal("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithField("error", err).Warn("HTTP shutdown incomplete")
	}
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

func buildAuditor(cfg config.AuditConfig, log *logrus.Logger) audit.Auditor {
	multi := audit.NewMultiAuditor()
	for _, pg := range cfg.Backends.Postgres {
		auditor, err := audit.NewPostgresAuditor(pg.ConnStr, log)
		if err != nil {
			log.WithField("error", err).Fatal("Failed to connect audit backend")
		}
		multi.Register(auditor)
	}
	return multi
}

func buildStore(cfg config.JobStoreConfig, log *logrus.Logger) (jobstore.Store, func()) {
	if cfg.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		log.WithField("addr", cfg.RedisAddr).Info("Using redis job store")
		return jobstore.NewRedisStore(client), func() { client.Close() }
	}
	return jobstore.NewMemoryStore(), func() {}
}
