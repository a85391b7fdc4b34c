package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"dashmaster/pkg/db"
)

// SeedDevice is one entry of a registry seed file.
type SeedDevice struct {
	Hostname  string `json:"hostname"`
	SlotIndex int    `json:"slot_index"`
	HTTPPort  int    `json:"http_port"`
	AdminPort int    `json:"admin_port"`
	MQTTTopic string `json:"mqtt_topic"`
}

type seedFile struct {
	Devices []SeedDevice `json:"devices"`
}

// LoadSeedFile parses and sanity-checks a registry.json file.
func LoadSeedFile(path string) ([]SeedDevice, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return parseSeed(raw)
}

func parseSeed(raw []byte) ([]SeedDevice, error) {
	var file seedFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	seenHost := make(map[string]struct{}, len(file.Devices))
	seenSlot := make(map[int]struct{}, len(file.Devices))
	for i := range file.Devices {
		d := &file.Devices[i]
		if d.Hostname == "" {
			return nil, fmt.Errorf("seed entry %d: hostname is required", i)
		}
		if _, dup := seenHost[d.Hostname]; dup {
			return nil, fmt.Errorf("seed entry %d: duplicate hostname %s", i, d.Hostname)
		}
		seenHost[d.Hostname] = struct{}{}
		if d.SlotIndex < 0 {
			return nil, fmt.Errorf("seed entry %d: negative slot_index", i)
		}
		if _, dup := seenSlot[d.SlotIndex]; dup {
			return nil, fmt.Errorf("seed entry %d: duplicate slot_index %d", i, d.SlotIndex)
		}
		seenSlot[d.SlotIndex] = struct{}{}
		if d.HTTPPort <= 0 || d.AdminPort <= 0 {
			return nil, fmt.Errorf("seed entry %d: ports must be positive", i)
		}
		if d.MQTTTopic == "" {
			d.MQTTTopic = "dash/" + d.Hostname
		}
	}
	return file.Devices, nil
}

// Seed inserts missing devices as unclaimed. Rows whose hostname already
// exists are left untouched. Returns how many rows were inserted.
func (r *Registry) Seed(ctx context.Context, devices []SeedDevice) (int, error) {
	inserted := 0
	for _, d := range devices {
		tag, err := db.Exec(ctx, r.pool, `
INSERT INTO devices (id, hostname, slot_index, http_port, admin_port, mqtt_topic, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
ON CONFLICT (hostname) DO NOTHING
`, uuid.New(), d.Hostname, d.SlotIndex, d.HTTPPort, d.AdminPort, d.MQTTTopic, StatusUnclaimed)
		if err != nil {
			return inserted, fmt.Errorf("seed %s: %w", d.Hostname, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
