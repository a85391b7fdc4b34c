package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

// The structs below freeze the schema as it stood at this migration. The live
// models under services/registry and services/ledger evolve separately.

type Device struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Hostname  string     `gorm:"type:text;uniqueIndex;not null"`
	SlotIndex int        `gorm:"type:int;uniqueIndex;not null"`
	HTTPPort  int        `gorm:"type:int;not null"`
	AdminPort int        `gorm:"type:int;not null"`
	MQTTTopic string     `gorm:"type:text;not null"`
	Profile   *string    `gorm:"type:text"`
	Status    string     `gorm:"type:text;not null;default:'unclaimed'"`
	LastSeen  *time.Time `gorm:"type:timestamptz"`
	CreatedAt time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type ConfigHistory struct {
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
	Device         Device    `gorm:"foreignKey:DeviceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (ConfigHistory) TableName() string { return "config_history" }

type DeviceBirth struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	DeviceID  uuid.UUID         `gorm:"type:uuid;uniqueIndex;not null"`
	Doc       datatypes.JSONMap `gorm:"type:jsonb"`
	SHA256    string            `gorm:"type:text;not null;column:sha256"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Device    Device            `gorm:"foreignKey:DeviceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (DeviceBirth) TableName() string { return "device_birth" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Device{},
		&ConfigHistory{},
		&DeviceBirth{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&ConfigHistory{}, "Device"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&DeviceBirth{}, "Device"); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&DeviceBirth{},
		&ConfigHistory{},
		&Device{},
	); err != nil {
		return err
	}

	return nil
}
