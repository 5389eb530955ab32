package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"

	"github.com/bdougie/vidfeatures/internal/config"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid environment: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(env)

	// SIGINT aborts the run; whatever was finished stays written
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "vidfeatures",
		Usage: "Extract per-frame EfficientNet-V2 features from videos",
		Commands: []*cli.Command{
			extractCommand(env, logger),
			searchCommand(env, logger),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		logger.Error("vidfeatures failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func newLogger(env *config.Env) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(env.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	if env.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	)
}
