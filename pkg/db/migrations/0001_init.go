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

type Item struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	IMEI      string    `gorm:"type:text;not null;default:'';index"`
	Serial    string    `gorm:"type:text;not null;default:'';index"`
	Brand     string    `gorm:"type:text;not null;default:''"`
	Model     string    `gorm:"type:text;not null;default:''"`
	Category  string    `gorm:"type:text;not null;default:''"`
	Status    string    `gorm:"type:text;not null;default:'available'"`
	Location  string    `gorm:"type:text;not null;default:'';index"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Audit struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Location    string            `gorm:"type:text;not null"`
	Criteria    datatypes.JSONMap `gorm:"type:jsonb"`
	Status      string            `gorm:"type:text;not null;default:'open'"`
	Note        string            `gorm:"type:text;not null;default:''"`
	Found       int               `gorm:"type:integer;not null;default:0"`
	Missing     int               `gorm:"type:integer;not null;default:0"`
	Unexpected  int               `gorm:"type:integer;not null;default:0"`
	Duplicate   int               `gorm:"type:integer;not null;default:0"`
	Incongruent int               `gorm:"type:integer;not null;default:0"`
	NotFound    int               `gorm:"type:integer;not null;default:0"`
	StartedAt   time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	FinishedAt  *time.Time        `gorm:"type:timestamptz"`
}

type SnapshotItem struct {
	ID               int64     `gorm:"type:bigserial;primaryKey"`
	AuditID          uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_snapshot_audit_item,priority:1"`
	ItemID           uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_snapshot_audit_item,priority:2"`
	IdentifierKind   string    `gorm:"type:text;not null"`
	Identifier       string    `gorm:"type:text;not null;index"`
	ExpectedStatus   string    `gorm:"type:text;not null"`
	ExpectedLocation string    `gorm:"type:text;not null;default:''"`
	Audit            Audit     `gorm:"foreignKey:AuditID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type ScanEvent struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	AuditID        uuid.UUID  `gorm:"type:uuid;not null;index:idx_scan_audit_identifier,priority:1"`
	RawCode        string     `gorm:"type:text;not null"`
	IdentifierKind string     `gorm:"type:text;not null"`
	Identifier     string     `gorm:"type:text;not null;index:idx_scan_audit_identifier,priority:2"`
	Outcome        string     `gorm:"type:text;not null"`
	MatchedItemID  *uuid.UUID `gorm:"type:uuid"`
	FoundLocation  string     `gorm:"type:text;not null;default:''"`
	Source         string     `gorm:"type:text;not null;default:''"`
	CapturedAt     time.Time  `gorm:"type:timestamptz;not null"`
	RecordedAt     time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Audit          Audit      `gorm:"foreignKey:AuditID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Task struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	AuditID        uuid.UUID  `gorm:"type:uuid;not null;index"`
	Type           string     `gorm:"type:text;not null"`
	Description    string     `gorm:"type:text;not null"`
	Priority       string     `gorm:"type:text;not null;default:'normal'"`
	Status         string     `gorm:"type:text;not null;default:'open'"`
	Identifier     string     `gorm:"type:text;not null;default:''"`
	ResolutionNote string     `gorm:"type:text;not null;default:''"`
	CreatedAt      time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	ResolvedAt     *time.Time `gorm:"type:timestamptz"`
	Audit          Audit      `gorm:"foreignKey:AuditID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Activity struct {
	ID      int64             `gorm:"type:bigserial;primaryKey"`
	Actor   string            `gorm:"type:text;not null"`
	Action  string            `gorm:"type:text;not null"`
	Obj     string            `gorm:"type:text;not null;default:''"`
	Details datatypes.JSONMap `gorm:"type:jsonb"`
	At      time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (Activity) TableName() string { return "activity" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&Item{},
		&Audit{},
		&SnapshotItem{},
		&ScanEvent{},
		&Task{},
		&Activity{},
	); err != nil {
		return err
	}

	// Partial unique index: one row per IMEI, while serial-only items keep
	// an empty imei without colliding.
	if _, err := tx.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_items_imei_unique ON items (imei) WHERE imei <> ''`,
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&SnapshotItem{}, "Audit"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&ScanEvent{}, "Audit"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Task{}, "Audit"); err != nil {
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

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&Activity{},
		&Task{},
		&ScanEvent{},
		&SnapshotItem{},
		&Audit{},
		&Item{},
	)
}
