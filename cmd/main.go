// Streaming relay server.
//
// The server exposes one authenticated streaming endpoint that turns a
// request into a token-by-token model answer delivered as server-sent
// events, plus a read-only billing projection, a health check and
// Prometheus metrics.
//
// Environment Variables:
//   - JWKS_URL: URL publishing the credential verification key set (required)
//   - KEY_FETCH_TIMEOUT: key-source fetch deadline, e.g. "5s"
//   - UPSTREAM_URL: OpenAI-compatible chat completions endpoint
//   - UPSTREAM_API_KEY: model provider credential (required)
//   - UPSTREAM_TIMEOUT: total deadline for one streaming call, e.g. "25s"
//   - USE_CASE: "topic" or "visit_note"
//   - MODEL_PREMIUM, MODEL_STANDARD, MODEL_FREE: tier→model table
//   - STREAM_DEBUG_META, STREAM_DEBUG_CLAIMS: diagnostic meta event toggles
//   - STRIPE_API_KEY: enables live subscription details on /v1/billing
//   - LISTEN_ADDR: bind address (default ":8080")
//   - LOG_LEVEL: zap level, e.g. "debug" (default "info")
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"stream-relay/internal/app"
	"stream-relay/internal/auth"
	"stream-relay/internal/billing"
	"stream-relay/internal/llm"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// loadEnvFile loads environment variables from a .env file if present,
// searching the working directory and its parents.
func loadEnvFile(logger *zap.Logger) {
	if err := godotenv.Load(); err == nil {
		logger.Info("loaded .env from current directory")
		return
	}

	workDir, err := os.Getwd()
	if err != nil {
		logger.Warn("could not determine working directory", zap.Error(err))
		return
	}

	for dir := workDir; dir != "/"; dir = filepath.Dir(dir) {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err == nil {
				logger.Info("loaded .env", zap.String("path", envPath))
				return
			}
		}
	}

	logger.Info("no .env file found, using existing environment")
}

func newLogger() *zap.Logger {
	level := zapcore.InfoLevel
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if parsed, err := zapcore.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	loadEnvFile(logger)

	jwksURL := os.Getenv("JWKS_URL")
	if jwksURL == "" {
		logger.Fatal("JWKS_URL is not set")
	}

	fetchTimeout := auth.DefaultFetchTimeout
	if raw := os.Getenv("KEY_FETCH_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			logger.Fatal("invalid KEY_FETCH_TIMEOUT", zap.String("value", raw), zap.Error(err))
		}
		fetchTimeout = d
	}

	cfg, err := llm.LoadConfig()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	verifier := auth.NewVerifier(auth.NewKeySet(jwksURL, fetchTimeout))

	a := app.NewApp(logger)

	relay := llm.NewServerState(cfg, verifier, logger)
	relay.RegisterHandlers(a.Router)

	billingHandler := billing.NewHandler(cfg, verifier, billing.NewService(os.Getenv("STRIPE_API_KEY")), logger)
	billingHandler.RegisterHandlers(a.Router)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:    addr,
		Handler: a.Handler(),
		// No WriteTimeout: responses are long-lived streams bounded by
		// the upstream deadline, not by a fixed write window.
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	go func() {
		logger.Info("starting server",
			zap.String("addr", addr),
			zap.String("use_case", cfg.UseCase),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	} else {
		logger.Info("server stopped")
	}
}
