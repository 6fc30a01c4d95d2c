package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/slateworks/slate/internal/board"
)

const migrationNormalizeShapeKinds = "2026-07-18_normalize_shape_kinds"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeShapeKinds, apply: normalizeShapeKinds},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeShapeKinds lowercases kinds written by early clients that sent
// camel case names like StickyNote.
func normalizeShapeKinds(db *gorm.DB) error {
	if err := db.Model(&board.Shape{}).
		Where("kind <> lower(kind)").
		Update("kind", gorm.Expr("lower(kind)")).Error; err != nil {
		return err
	}
	return db.Model(&board.Shape{}).
		Where("kind = ?", "stickynote").
		Update("kind", "sticky-note").Error
}
