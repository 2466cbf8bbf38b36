package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgLogger "github.com/wyfcoding/commissionledger/pkg/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrSchemaOutdated 数据库 schema 版本低于服务要求
var ErrSchemaOutdated = errors.New("database schema is outdated, run migrate first")

// SchemaMigration 已应用的 schema 版本
type SchemaMigration struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	AppliedAt time.Time `gorm:"not null"`
}

// TableName 指定表名
func (SchemaMigration) TableName() string {
	return "schema_migrations"
}

// Migrate 执行 AutoMigrate 并记录 schema 版本
func (d *DB) Migrate(ctx context.Context, version int, models ...any) error {
	conn := d.Conn(ctx)
	if err := conn.AutoMigrate(append([]any{&SchemaMigration{}}, models...)...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	rec := SchemaMigration{Version: version, AppliedAt: time.Now().UTC()}
	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error; err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	pkgLogger.Info(ctx, "schema migrated", "version", version)
	return nil
}

// SchemaVersion 返回已应用的最高 schema 版本，未迁移时返回 0
func (d *DB) SchemaVersion(ctx context.Context) (int, error) {
	conn := d.Conn(ctx)
	if !conn.Migrator().HasTable(&SchemaMigration{}) {
		return 0, nil
	}
	var rec SchemaMigration
	err := conn.Order("version DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Version, nil
}

// RequireSchemaVersion 校验 schema 版本不低于 want
func (d *DB) RequireSchemaVersion(ctx context.Context, want int) error {
	got, err := d.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if got < want {
		return fmt.Errorf("%w: have %d, want %d", ErrSchemaOutdated, got, want)
	}
	return nil
}
