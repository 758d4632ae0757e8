package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/formbuilder/internal/forms"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillDefaultNotifications = "backfill_default_notifications"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillDefaultNotifications, apply: backfillDefaultNotifications},
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
		if err := migration.apply(db, logger); err != nil {
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

func backfillDefaultNotifications(db *gorm.DB, logger *zap.Logger) error {
	updated, err := forms.BackfillDefaultNotifications(db, nil)
	if err != nil {
		return err
	}
	if logger != nil && updated > 0 {
		logger.Info("default notifications added", zap.Int("forms", updated))
	}
	return nil
}
