// ABOUTME: Fake video generation service for local runs and E2E testing.
// ABOUTME: Usage: fake-videoapi [-addr :8000] [-step 1s] [-redis localhost:6379]
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/video-studio/internal/config"
	"github.com/2389/video-studio/internal/logging"
)

func main() {
	addr := flag.String("addr", "localhost:8000", "HTTP listen address")
	step := flag.Duration("step", time.Second, "Delay between pipeline stages")
	redisAddr := flag.String("redis", "", "Also mirror progress to this Redis (task:{id} / stream:{id})")
	failWord := flag.String("fail-on", "fail", "Prompts containing this word fail midway")
	flag.Parse()

	logger := logging.Setup(config.LoggingConfig{Level: "info"}, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addr, *step, *redisAddr, *failWord, logger); err != nil {
		logger.Error("fake-videoapi exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr string, step time.Duration, redisAddr, failWord string, logger *slog.Logger) error {
	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	svc := newService(ctx, step, failWord, rdb, logger)
	srv := &http.Server{
		Addr:              addr,
		Handler:           svc.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("fake video service listening", "addr", addr, "step", step)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
