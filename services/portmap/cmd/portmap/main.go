package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"

	"dashmaster/services/portmap"
)

type config struct {
	BindHost    string `env:"PORTMAP_BIND_HOST,default=127.0.0.1"`
	Slots       int    `env:"PORTMAP_SLOTS,default=25"`
	HostPattern string `env:"PORTMAP_HOST_PATTERN,default=esp-%03d.local"`
	TargetPort  int    `env:"PORTMAP_TARGET_PORT,default=80"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("portmap failed")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Slots <= 0 {
		return errors.New("PORTMAP_SLOTS must be positive")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "portmap").Logger()

	mappings := portmap.BuildMappings(cfg.Slots, cfg.HostPattern, cfg.TargetPort)
	server, err := portmap.NewServer(cfg.BindHost, mappings, logger)
	if err != nil {
		return err
	}

	logger.Info().Int("slots", cfg.Slots).Msg("starting portmap")
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
