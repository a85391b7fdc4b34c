// Package ledger persists the audit trail of accepted configuration changes:
// an append-only history table and a per-device birth certificate whose
// configs map merges, never erases.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"dashmaster/services/packs"
)

// ErrNotFound is returned for devices with no birth certificate yet.
var ErrNotFound = errors.New("ledger: not found")

// Entry is one accepted change. Digests always carries all six kinds; kinds
// the pack did not include are nil.
type Entry struct {
	ID        uuid.UUID          `json:"id"`
	DeviceID  uuid.UUID          `json:"device_id"`
	Digests   map[string]*string `json:"hashes"`
	Actor     *string            `json:"actor"`
	Note      *string            `json:"note"`
	CreatedAt time.Time          `json:"created_at"`
}

// Birth is a device's birth certificate: the first-and-merged view of every
// config kind it ever accepted, digest-sealed.
type Birth struct {
	DeviceID  uuid.UUID      `json:"device_id"`
	Doc       map[string]any `json:"doc"`
	SHA256    string         `json:"sha256"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Ledger records and serves the audit trail.
type Ledger struct {
	orm *gorm.DB
}

func New(orm *gorm.DB) *Ledger {
	return &Ledger{orm: orm}
}

// Record appends one history row and folds the pack's digests into the
// device's birth certificate, creating it on first accepted upload. Both
// writes commit together.
func (l *Ledger) Record(ctx context.Context, deviceID uuid.UUID, hostname string, digests map[packs.Kind]string, actor, note string) error {
	row := historyFromDigests(deviceID, digests, actor, note)

	return l.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		var birth birthModel
		err := tx.Where("device_id = ?", deviceID).First(&birth).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			birth = birthModel{ID: uuid.New(), DeviceID: deviceID, Doc: datatypes.JSONMap{}}
		case err != nil:
			return fmt.Errorf("load birth doc: %w", err)
		}

		birth.Doc = mergeBirthDoc(birth.Doc, hostname, digests)
		sum, err := docDigest(birth.Doc)
		if err != nil {
			return fmt.Errorf("digest birth doc: %w", err)
		}
		birth.SHA256 = sum

		if err := tx.Save(&birth).Error; err != nil {
			return fmt.Errorf("save birth doc: %w", err)
		}
		return nil
	})
}

// History returns a device's accepted changes, newest first.
func (l *Ledger) History(ctx context.Context, deviceID uuid.UUID) ([]Entry, error) {
	var rows []historyModel
	err := l.orm.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toAPI())
	}
	return out, nil
}

// Birth returns the device's birth certificate.
func (l *Ledger) Birth(ctx context.Context, deviceID uuid.UUID) (Birth, error) {
	var birth birthModel
	err := l.orm.WithContext(ctx).Where("device_id = ?", deviceID).First(&birth).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Birth{}, ErrNotFound
	}
	if err != nil {
		return Birth{}, fmt.Errorf("load birth doc: %w", err)
	}
	return birth.toAPI(), nil
}

// mergeBirthDoc folds new digests into the certificate. Existing kinds are
// overwritten, absent kinds are kept, nothing is ever removed.
func mergeBirthDoc(doc datatypes.JSONMap, hostname string, digests map[packs.Kind]string) datatypes.JSONMap {
	if doc == nil {
		doc = datatypes.JSONMap{}
	}
	doc["device_id"] = hostname

	configs, ok := doc["configs"].(map[string]any)
	if !ok {
		configs = map[string]any{}
	}
	for kind, sum := range digests {
		configs[kind.String()] = sum
	}
	doc["configs"] = configs
	return doc
}

// docDigest seals the certificate with a SHA-256 over its canonical JSON
// encoding: sorted keys, compact separators, no HTML escaping.
func docDigest(doc datatypes.JSONMap) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(doc)); err != nil {
		return "", err
	}
	return packs.SHA256Hex(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}
