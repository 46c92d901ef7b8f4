package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aigateway/aigateway/internal/cache"
	"github.com/aigateway/aigateway/internal/config"
	"github.com/aigateway/aigateway/internal/credential"
	"github.com/aigateway/aigateway/internal/ingress"
	"github.com/aigateway/aigateway/internal/logging"
	"github.com/aigateway/aigateway/internal/providers"
	"github.com/aigateway/aigateway/internal/refresher"
	"github.com/aigateway/aigateway/internal/retrypolicy"
	"github.com/aigateway/aigateway/internal/telemetry"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "aigateway - a unified inference gateway across chat-completion dialects",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gateway version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetryProvider, err := telemetry.New(ctx, telemetry.Config{Endpoint: cfg.OTLPEndpoint, ServiceName: "aigateway"})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = telemetryProvider.Shutdown(context.Background()) }()

	pool := credential.NewManager(cfg.ErrorThreshold)
	pool.SetTokenSkew(cfg.RefreshSkew)
	if err := loadCredentials(pool); err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	directAdapters, err := providers.BuildDirectAdapters()
	if err != nil {
		return fmt.Errorf("build direct adapters: %w", err)
	}
	adapters := directAdapters
	if reverseBase := os.Getenv("GATEWAY_WEBCHAT_BASE_URL"); reverseBase != "" {
		adapters[providers.KindReverse] = providers.BuildReverseAdapter(reverseBase, os.Getenv("GATEWAY_WEBCHAT_ASSET_BASE_URL"))
	}

	var store redis.Cmdable
	if cfg.RedisAddr != "" {
		store, err = connectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			log.Warn("prefix-cache store unavailable at startup; accounting will fail open", zap.Error(err))
			store = nil
		}
	}
	accountant := cache.New(store, nil, log)

	refreshScheduler := startRefresher(ctx, pool, cfg, log)
	defer refreshScheduler.stop()

	server := &ingress.Server{
		Pool:        pool,
		Adapters:    adapters,
		Accountant:  accountant,
		RouteModel:  providers.RouteModel,
		APIKey:      cfg.APIKey,
		RetryConfig: retrypolicy.Config{MaxAttempts: cfg.MaxRetryAttempts, InitialDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second},
		Log:         log,
		Tracer:      telemetryProvider.Tracer(),
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("gateway listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// loadCredentials seeds the pool from environment-provided API keys. A
// persisted JSON credential store (spec §6 "Persisted state layout") is a
// natural next step; reading from the environment keeps the zero-to-running
// path simple for this entrypoint.
func loadCredentials(pool *credential.Manager) error {
	type seed struct {
		kind   credential.Kind
		envVar string
	}
	seeds := []seed{
		{providers.KindOpenAI, "GATEWAY_OPENAI_API_KEY"},
		{providers.KindAnthropic, "GATEWAY_ANTHROPIC_API_KEY"},
		{providers.KindGemini, "GATEWAY_GEMINI_API_KEY"},
		{providers.KindReverse, "GATEWAY_WEBCHAT_COOKIE"},
	}
	for _, s := range seeds {
		if key := os.Getenv(s.envVar); key != "" {
			pool.Add(credential.New(s.kind, key))
		}
	}
	return nil
}

// connectRedis lazily connects to the prefix-cache store with the bounded
// retry/backoff named in spec §5 ("≤3 attempts, 200ms×n capped at 2s").
func connectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	err := retrypolicy.Do(ctx, retrypolicy.KVStoreConnectConfig(), func(ctx context.Context, attempt int) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

type refresherHandle struct {
	cancel context.CancelFunc
}

func (h *refresherHandle) stop() { h.cancel() }

// startRefresher builds the token refresher and starts the periodic sweep.
// No refresh function is registered for any provider kind, so Refresh and
// ForceRefresh do nothing for the credentials loadCredentials seeds, which
// authenticate with a static key or cookie rather than OAuth.
func startRefresher(parent context.Context, pool *credential.Manager, cfg *config.Config, log *zap.Logger) *refresherHandle {
	ctx, cancel := context.WithCancel(parent)
	r := refresher.New(pool, cfg.RefreshSkew, log)
	scheduler := refresher.NewScheduler(r, cfg.RefreshPeriod, 2, log)
	go scheduler.Run(ctx, pool)
	return &refresherHandle{cancel: cancel}
}
