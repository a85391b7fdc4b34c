package ledger

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"dashmaster/services/packs"
)

type historyModel struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	DeviceID       uuid.UUID `gorm:"type:uuid;not null;index"`
	LayoutSHA      *string   `gorm:"type:text;column:layout_sha"`
	RulesSHA       *string   `gorm:"type:text;column:rules_sha"`
	SchemaSHA      *string   `gorm:"type:text;column:schema_sha"`
	CalibrationSHA *string   `gorm:"type:text;column:calibration_sha"`
	BoardMapSHA    *string   `gorm:"type:text;column:board_map_sha"`
	ThemeSHA       *string   `gorm:"type:text;column:theme_sha"`
	Actor          *string   `gorm:"type:text"`
	Note           *string   `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (historyModel) TableName() string { return "config_history" }

func (h historyModel) toAPI() Entry {
	return Entry{
		ID:       h.ID,
		DeviceID: h.DeviceID,
		Digests: map[string]*string{
			packs.KindLayout.String():      h.LayoutSHA,
			packs.KindRules.String():       h.RulesSHA,
			packs.KindSchema.String():      h.SchemaSHA,
			packs.KindCalibration.String(): h.CalibrationSHA,
			packs.KindBoardMap.String():    h.BoardMapSHA,
			packs.KindTheme.String():       h.ThemeSHA,
		},
		Actor:     h.Actor,
		Note:      h.Note,
		CreatedAt: h.CreatedAt,
	}
}

// historyFromDigests builds the append-only row for one accepted pack. Kinds
// the pack did not carry stay NULL.
func historyFromDigests(deviceID uuid.UUID, digests map[packs.Kind]string, actor, note string) historyModel {
	h := historyModel{
		ID:       uuid.New(),
		DeviceID: deviceID,
		Actor:    optional(actor),
		Note:     optional(note),
	}
	assign := func(dst **string, kind packs.Kind) {
		if sum, ok := digests[kind]; ok {
			*dst = &sum
		}
	}
	assign(&h.LayoutSHA, packs.KindLayout)
	assign(&h.RulesSHA, packs.KindRules)
	assign(&h.SchemaSHA, packs.KindSchema)
	assign(&h.CalibrationSHA, packs.KindCalibration)
	assign(&h.BoardMapSHA, packs.KindBoardMap)
	assign(&h.ThemeSHA, packs.KindTheme)
	return h
}

type birthModel struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	DeviceID  uuid.UUID         `gorm:"type:uuid;uniqueIndex;not null"`
	Doc       datatypes.JSONMap `gorm:"type:jsonb"`
	SHA256    string            `gorm:"type:text;not null;column:sha256"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (birthModel) TableName() string { return "device_birth" }

func (b birthModel) toAPI() Birth {
	return Birth{
		DeviceID:  b.DeviceID,
		Doc:       mapFromJSONMap(b.Doc),
		SHA256:    b.SHA256,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func mapFromJSONMap(src datatypes.JSONMap) map[string]any {
	if src == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
