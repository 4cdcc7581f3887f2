// Command gateway runs the WhatsApp-to-agent dialog pipeline: it loads
// configuration, wires the batching core to a message store, the LLM agent,
// and the outbound WhatsApp transport, and serves the inbound webhook over
// HTTP until told to shut down.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/whatsapp-agent-gateway/gateway/internal/agent"
	"github.com/whatsapp-agent-gateway/gateway/internal/batching"
	"github.com/whatsapp-agent-gateway/gateway/internal/clock"
	"github.com/whatsapp-agent-gateway/gateway/internal/config"
	"github.com/whatsapp-agent-gateway/gateway/internal/hooks"
	"github.com/whatsapp-agent-gateway/gateway/internal/observability"
	"github.com/whatsapp-agent-gateway/gateway/internal/store"
	"github.com/whatsapp-agent-gateway/gateway/internal/webhook"
	"github.com/whatsapp-agent-gateway/gateway/pkg/whatsapp"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	messageStore, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}

	waClient, err := whatsapp.NewClient(cfg.WhatsApp.APIKey, cfg.WhatsApp.APIEndpoint, whatsapp.Options{
		Timeout:           cfg.WhatsApp.Timeout,
		RetryAttempts:     cfg.WhatsApp.RetryAttempts,
		RetryDelay:        cfg.WhatsApp.RetryDelay,
		RequestsPerSecond: cfg.WhatsApp.RequestsPerSecond,
		WebhookSecret:     cfg.WhatsApp.WebhookSecret,
	})
	if err != nil {
		return fmt.Errorf("build whatsapp client: %w", err)
	}

	agentClient := agent.New(agent.Config{
		APIKey:  cfg.Agent.APIKey,
		BaseURL: cfg.Agent.BaseURL,
		Model:   cfg.Agent.Model,
		Timeout: cfg.Agent.Timeout,
	})
	processor := agent.NewProcessor(agentClient, waClient, agent.NoopTTS, cfg.Pipeline.SpeechPlayChance, logger, rand.Float64)

	notifier := observability.NewWhatsAppNotifier(waClient, logger)

	metrics := observability.NewMetrics()
	hookChain := hooks.NewChain(nil, nil)

	realClock := clock.Real{}
	svc := batching.New(cfg.BatchingConfig(), realClock, messageStore, hookChain, processor, notifier, logger)

	broadcaster := observability.NewLoggingBroadcaster(logger)
	dispatcher := webhook.NewDispatcher(svc, broadcaster, nil, realClock, 500*time.Millisecond, logger)
	handler := webhook.NewHandler(dispatcher, cfg.Server.VerifyToken, waClient)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler.Register(router)
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stopSampling := startMetricsSampler(svc, metrics, realClock)
	defer stopSampling()

	stopEviction := startIdleEviction(svc, realClock)
	defer stopEviction()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}

	svc.Shutdown(cfg.Server.ShutdownTimeout)
	return nil
}

func buildStore(cfg *config.Config) (store.MessageStore, error) {
	switch cfg.Store.Kind {
	case "redis":
		opts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		return store.NewRedisStore(client, cfg.Pipeline.MaxProcessedIDs), nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store.NewPostgresStore(context.Background(), db, cfg.Pipeline.MaxProcessedIDs)

	default:
		return store.NewMemoryStore(cfg.Pipeline.MaxProcessedIDs), nil
	}
}

// startMetricsSampler periodically samples the pipeline's active-user and
// pending-message gauges. Returns a stop function.
func startMetricsSampler(svc *batching.BatchingService, metrics *observability.Metrics, c clock.Clock) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				snap := svc.Snapshot()
				metrics.Sample(snap.ActiveUsers, snap.PendingMessages)
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// startIdleEviction periodically sweeps idle per-user state out of the
// pipeline so long-quiet users don't pin memory indefinitely.
func startIdleEviction(svc *batching.BatchingService, c clock.Clock) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				svc.EvictIdle()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
