// Package registry is the device inventory: which bench slots exist, how to
// reach them, and who has claimed them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"dashmaster/pkg/db"
)

const (
	StatusUnclaimed = "unclaimed"
	StatusClaimed   = "claimed"
)

var (
	// ErrNotFound is returned for hostnames the registry does not know.
	ErrNotFound = errors.New("registry: device not found")
	// ErrConflict is returned when a claim cannot be satisfied: the device is
	// already claimed, or no unclaimed device is left.
	ErrConflict = errors.New("registry: claim conflict")
)

// Device is one bench slot.
type Device struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Hostname  string     `db:"hostname" json:"hostname"`
	SlotIndex int        `db:"slot_index" json:"slot_index"`
	HTTPPort  int        `db:"http_port" json:"http_port"`
	AdminPort int        `db:"admin_port" json:"admin_port"`
	MQTTTopic string     `db:"mqtt_topic" json:"mqtt_topic"`
	Profile   *string    `db:"profile" json:"profile"`
	Status    string     `db:"status" json:"status"`
	LastSeen  *time.Time `db:"last_seen" json:"last_seen"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Registry serves and mutates the device inventory.
type Registry struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

// List returns every device ordered by slot.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	var devices []Device
	err := db.Select(ctx, r.pool, &devices, `
SELECT id, hostname, slot_index, http_port, admin_port, mqtt_topic,
       profile, status, last_seen, created_at, updated_at
FROM devices
ORDER BY slot_index
`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// ByHostname resolves one device.
func (r *Registry) ByHostname(ctx context.Context, hostname string) (Device, error) {
	var device Device
	err := db.Get(ctx, r.pool, &device, `
SELECT id, hostname, slot_index, http_port, admin_port, mqtt_topic,
       profile, status, last_seen, created_at, updated_at
FROM devices
WHERE hostname = $1
`, hostname)
	if pgxscan.NotFound(err) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("load device %s: %w", hostname, err)
	}
	return device, nil
}

// Claim marks a device as taken. With a hostname it claims that device; with
// an empty hostname it claims the lowest unclaimed slot. Claiming a claimed
// device, or asking for any device when none is free, is ErrConflict.
func (r *Registry) Claim(ctx context.Context, hostname, profile string) (Device, error) {
	if hostname != "" {
		return r.claimNamed(ctx, hostname, profile)
	}
	return r.claimNext(ctx, profile)
}

func (r *Registry) claimNamed(ctx context.Context, hostname, profile string) (Device, error) {
	var device Device
	err := db.Get(ctx, r.pool, &device, `
UPDATE devices
SET status = $2, profile = NULLIF($3, ''), last_seen = now(), updated_at = now()
WHERE hostname = $1 AND status = $4
RETURNING id, hostname, slot_index, http_port, admin_port, mqtt_topic,
          profile, status, last_seen, created_at, updated_at
`, hostname, StatusClaimed, profile, StatusUnclaimed)
	if err == nil {
		return device, nil
	}
	if !pgxscan.NotFound(err) {
		return Device{}, fmt.Errorf("claim %s: %w", hostname, err)
	}

	// Nothing updated: either the device is unknown or already claimed.
	if _, err := r.ByHostname(ctx, hostname); err != nil {
		return Device{}, err
	}
	return Device{}, ErrConflict
}

func (r *Registry) claimNext(ctx context.Context, profile string) (Device, error) {
	var device Device
	err := db.Get(ctx, r.pool, &device, `
UPDATE devices
SET status = $1, profile = NULLIF($2, ''), last_seen = now(), updated_at = now()
WHERE id = (
    SELECT id FROM devices
    WHERE status = $3
    ORDER BY slot_index
    LIMIT 1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, hostname, slot_index, http_port, admin_port, mqtt_topic,
          profile, status, last_seen, created_at, updated_at
`, StatusClaimed, profile, StatusUnclaimed)
	if pgxscan.NotFound(err) {
		return Device{}, ErrConflict
	}
	if err != nil {
		return Device{}, fmt.Errorf("claim next device: %w", err)
	}
	return device, nil
}

// Release puts a device back in the pool.
func (r *Registry) Release(ctx context.Context, hostname string) (Device, error) {
	var device Device
	err := db.Get(ctx, r.pool, &device, `
UPDATE devices
SET status = $2, profile = NULL, updated_at = now()
WHERE hostname = $1
RETURNING id, hostname, slot_index, http_port, admin_port, mqtt_topic,
          profile, status, last_seen, created_at, updated_at
`, hostname, StatusUnclaimed)
	if pgxscan.NotFound(err) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("release %s: %w", hostname, err)
	}
	return device, nil
}
