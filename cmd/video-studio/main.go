// ABOUTME: Terminal client for generating videos from chat prompts.
// ABOUTME: Restores saved conversations, resumes running jobs, and streams progress live.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"

	"github.com/2389/video-studio/internal/config"
	"github.com/2389/video-studio/internal/conversation"
	"github.com/2389/video-studio/internal/logging"
	"github.com/2389/video-studio/internal/store"
	"github.com/2389/video-studio/internal/studio"
	"github.com/2389/video-studio/internal/taskstream"
	"github.com/2389/video-studio/internal/videoapi"
)

// version is set at build time.
var version = "dev"

const banner = `
       _     _                      _             _ _
__   _(_) __| | ___  ___        ___| |_ _   _  __| (_) ___
\ \ / / |/ _' |/ _ \/ _ \ _____/ __| __| | | |/ _' | |/ _ \
 \ V /| | (_| |  __/ (_) |_____\__ \ |_| |_| | (_| | | (_) |
  \_/ |_|\__,_|\___|\___/      |___/\__|\__,_|\__,_|_|\___/
`

func main() {
	configPath := flag.String("config", os.Getenv("STUDIO_CONFIG"), "Config file (YAML or TOML)")
	ephemeral := flag.Bool("ephemeral", false, "Keep state in memory only")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *ephemeral); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, configPath string, ephemeral bool) error {
	cfg, err := config.LoadOptional(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if ephemeral {
		cfg.Storage.Driver = store.DriverMemory
	}

	logger := logging.Setup(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	svc, err := assemble(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	printBanner(cfg)

	if n := svc.ResumePending(); n > 0 {
		color.New(color.FgYellow).Printf("Resumed %d running job(s)\n\n", n)
	}

	go render(ctx, svc, os.Stdout)

	return newREPL(svc, os.Stdin, os.Stdout).run(ctx)
}

// assemble wires storage, the video client, the progress source, and the
// facade. The returned service owns every resource it was given.
func assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*studio.Service, error) {
	st, err := store.Open(ctx, store.Options{
		Driver:        cfg.Storage.Driver,
		Slot:          cfg.Storage.Slot,
		Path:          cfg.Storage.Path,
		RedisAddr:     cfg.Storage.Redis.Addr,
		RedisPassword: cfg.Storage.Redis.Password,
		RedisDB:       cfg.Storage.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	repo := conversation.NewRepository(st, logger)
	repo.SetSaveTimeout(cfg.Storage.SaveTimeout)
	repo.Restore(store.LoadOrEmpty(ctx, st, logger))

	api := videoapi.New(videoapi.Options{
		BaseURL:       cfg.API.BaseURL,
		Token:         cfg.API.Token,
		SubmitTimeout: cfg.API.SubmitTimeout,
		AspectRatio:   cfg.API.AspectRatio,
		VoiceProvider: cfg.API.VoiceProvider,
	}, logger)

	var source taskstream.Source = taskstream.HTTPSource{Opener: api}
	var rdb *redis.Client
	if cfg.Stream.Source == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		source = taskstream.NewRedisSource(rdb)
	}

	streams := taskstream.NewClient(source, repo, logger)
	svc := studio.New(repo, api, streams, logger)
	svc.OnClose(st)
	if rdb != nil {
		svc.OnClose(rdb)
	}
	return svc, nil
}

func printBanner(cfg *config.Config) {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Service:   %s\n", cfg.API.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Storage:   %s", cfg.Storage.Driver)
	if cfg.Storage.Driver == store.DriverSQLite || cfg.Storage.Driver == store.DriverBolt {
		gray.Printf(" (%s)", cfg.Storage.Path)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Progress:  %s\n", cfg.Stream.Source)
	if cfg.API.Token != "" {
		green.Print("    ▶ ")
		fmt.Println("Auth:      bearer token configured")
	}
	fmt.Println()
	fmt.Println("Describe a video and press Enter. /help for commands. Ctrl+C to quit.")
	fmt.Println()
}
