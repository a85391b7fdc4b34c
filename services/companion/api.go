package companion

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"gorm.io/gorm"

	"dashmaster/pkg/events"
	"dashmaster/services/delivery"
	"dashmaster/services/packs"
	"dashmaster/services/registry"
)

// Store holds external dependencies required by the HTTP layer.
type Store struct {
	DB  *pgxpool.Pool
	ORM *gorm.DB
	Bus *nats.Conn
}

// Directory is the slice of the device registry the handlers use.
type Directory interface {
	List(ctx context.Context) ([]registry.Device, error)
	ByHostname(ctx context.Context, hostname string) (registry.Device, error)
	Claim(ctx context.Context, hostname, profile string) (registry.Device, error)
	Release(ctx context.Context, hostname string) (registry.Device, error)
}

// API wires the delivery engine, registry, and event stream into HTTP handlers.
type API struct {
	store     *Store
	engine    *delivery.Engine
	devices   Directory
	contracts *packs.Validator
	stream    *events.Bus
	config    Config
}

// New initialises the API layer with defaults applied to the provided configuration.
func New(store *Store, engine *delivery.Engine, devices Directory, contracts *packs.Validator, stream *events.Bus, cfg Config) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if devices == nil {
		return nil, errors.New("device directory is required")
	}
	if contracts == nil {
		return nil, errors.New("contract validator is required")
	}
	if stream == nil {
		return nil, errors.New("event stream is required")
	}

	return &API{
		store:     store,
		engine:    engine,
		devices:   devices,
		contracts: contracts,
		stream:    stream,
		config:    cfg.withDefaults(),
	}, nil
}
