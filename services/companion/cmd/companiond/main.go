package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"dashmaster/pkg/db"
	"dashmaster/pkg/device"
	"dashmaster/pkg/events"
	"dashmaster/pkg/telemetry"
	"dashmaster/services/companion"
	"dashmaster/services/delivery"
	"dashmaster/services/ledger"
	"dashmaster/services/packs"
	"dashmaster/services/registry"
	"dashmaster/services/snapshot"
)

type config struct {
	Addr           string        `env:"ADDR,default=:8300"`
	DBDSN          string        `env:"DB_DSN,required"`
	StateDir       string        `env:"STATE_DIR,default=./state"`
	DeviceBaseURL  string        `env:"DEVICE_BASE_URL,default=http://127.0.0.1:{port}"`
	NATSURL        string        `env:"NATS_URL"`
	SeedFile       string        `env:"REGISTRY_SEED_FILE"`
	PushTimeout    time.Duration `env:"PUSH_TIMEOUT,default=5s"`
	PushAttempts   int           `env:"PUSH_ATTEMPTS,default=3"`
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS"`
	LogLevel       string        `env:"LOG_LEVEL,default=info"`
	LogPretty      bool          `env:"LOG_PRETTY,default=false"`
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("companiond failed")
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

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	shutdownTelemetry, httpMiddleware, logger, err := telemetry.Init(ctx, "companiond")
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("telemetry shutdown")
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	orm, err := gorm.Open(gormpostgres.New(gormpostgres.Config{
		DSN:                  cfg.DBDSN,
		PreferSimpleProtocol: true,
	}), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return fmt.Errorf("open orm: %w", err)
	}

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name("companiond"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer func() {
			_ = nc.Drain()
		}()
	}

	reg := registry.New(pool)
	if cfg.SeedFile != "" {
		seeds, err := registry.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("load seed file: %w", err)
		}
		inserted, err := reg.Seed(ctx, seeds)
		if err != nil {
			return fmt.Errorf("seed registry: %w", err)
		}
		logger.Info().Int("inserted", inserted).Int("declared", len(seeds)).Msg("registry seeded")
	}

	store, err := snapshot.NewStore(cfg.StateDir)
	if err != nil {
		return fmt.Errorf("init snapshot store: %w", err)
	}
	validator, err := packs.NewValidator()
	if err != nil {
		return fmt.Errorf("load contracts: %w", err)
	}

	bus := events.NewBus()
	defer bus.Close()

	engine, err := delivery.New(delivery.Config{
		Devices:   reg,
		Validator: validator,
		Snapshots: store,
		Pusher: device.NewClient(device.Config{
			Timeout:  cfg.PushTimeout,
			Attempts: cfg.PushAttempts,
		}),
		Resolver: device.NewResolver(cfg.DeviceBaseURL),
		Ledger:   ledger.New(orm),
		Bus:      bus,
		NATS:     nc,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("init delivery engine: %w", err)
	}

	api, err := companion.New(
		&companion.Store{DB: pool, ORM: orm, Bus: nc},
		engine,
		reg,
		validator,
		bus,
		companion.Config{AllowedOrigins: cfg.AllowedOrigins},
	)
	if err != nil {
		return fmt.Errorf("init api: %w", err)
	}
	routes, err := api.Routes()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpMiddleware(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server shutdown")
		}
	}()

	logger.Info().Str("addr", cfg.Addr).Str("state_dir", cfg.StateDir).Msg("starting companiond")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
