package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iliyamo/sms-service/internal/config"
	"github.com/iliyamo/sms-service/internal/handler"
	"github.com/iliyamo/sms-service/internal/iam"
	"github.com/iliyamo/sms-service/internal/logger"
	"github.com/iliyamo/sms-service/internal/metrics"
	"github.com/iliyamo/sms-service/internal/middleware"
	"github.com/iliyamo/sms-service/internal/queue"
	"github.com/iliyamo/sms-service/internal/router"
	"github.com/iliyamo/sms-service/internal/secrets"
	"github.com/iliyamo/sms-service/internal/service"
	"github.com/iliyamo/sms-service/internal/version"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if servePort != "" {
			cfg.Port = servePort
		}
		log, err := logger.New(cfg.Env, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, &cfg, *log)
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "port to listen on (overrides APP_PORT)")
}

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if cfg.IAMAPIKey == "" {
		log.Warn().Msg("IAM_API_KEY is not set; POST /messages will answer 400")
	}
	if cfg.SecretsMgrID == "" {
		log.Warn().Msg("SECRETS_MGR_GUID is not set; POST /messages will answer 400")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metrics.Register(prometheus.DefaultRegisterer)

	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb == nil {
		log.Warn().Msg("redis unavailable; rate limiting and response cache disabled")
	} else {
		defer func() { _ = rdb.Close() }()
	}

	hc := &http.Client{Transport: http.DefaultTransport}
	identity := iam.NewClient(cfg.IAMURL, hc, log.With().Str("component", "iam").Logger())
	secretClient := secrets.NewClient(cfg.SecretsURL, hc, log.With().Str("component", "secrets").Logger())

	var pub service.Publisher = service.NopPublisher{}
	var consumerDone <-chan struct{}
	if cfg.Queue.Enabled {
		pub = &service.RabbitPublisher{URL: cfg.Queue.URL, Queue: cfg.Queue.Name, Log: log}
		if cfg.Queue.ConsumerEnabled {
			consumer := &queue.Consumer{URL: cfg.Queue.URL, Queue: cfg.Queue.Name, LogDir: cfg.Queue.LogDir, Log: log}
			consumerDone = runBackground(ctx, consumer.Run)
		}
	}

	e := newEcho(log)
	h := handler.NewMessageHandler(cfg, identity, secretClient, pub, log.With().Str("component", "messages").Logger())
	router.RegisterRoutes(e)
	router.RegisterMetrics(e, prometheus.DefaultGatherer)
	router.RegisterMessages(e, h,
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log),
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb, log),
	)

	addr := ":" + cfg.Port
	log.Info().Str("addr", addr).Str("env", cfg.Env).Str("version", version.Version).Msg("listening")

	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(addr) }()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		log.Info().Msg("shutting down")
		serveErr = e.Shutdown(shutdownCtx)
	}

	cancel()
	if !waitFor(consumerDone, shutdownTimeout) {
		log.Warn().Msg("audit consumer did not stop in time")
	}
	return serveErr
}

const shutdownTimeout = 10 * time.Second

// newEcho returns an Echo instance with the common middleware chain.
// Recover sits inside the request logger so a recovered panic is logged
// as a 500.
func newEcho(log zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID(), middleware.RequestLogger(log), echomw.Recover())
	return e
}

// runBackground runs fn in a goroutine and returns a channel closed when
// it returns.
func runBackground(ctx context.Context, fn func(context.Context) error) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fn(ctx)
	}()
	return done
}

// waitFor blocks until done is closed or d elapses.  A nil channel counts
// as already closed.
func waitFor(done <-chan struct{}, d time.Duration) bool {
	if done == nil {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
