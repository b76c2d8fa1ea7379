package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationImportWikiEntries = "2026-10-01_import_wiki_entries"
	legacyEntriesTable         = "wiki_entries"
)

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
		{name: migrationImportWikiEntries, apply: importWikiEntries},
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

// importWikiEntries copies rows of a legacy wiki_entries table into revisions.
// Rows lacking an author, field or version cannot be represented and are skipped.
func importWikiEntries(db *gorm.DB) error {
	if !db.Migrator().HasTable(legacyEntriesTable) {
		return nil
	}
	return db.Exec(`INSERT INTO revisions
		(author_id, owner_type, owner_id, field_name, reverted, data, summary, sources, version, created_at)
		SELECT user_id, COALESCE(wikiable_type, ''), wikiable_id, column_name, COALESCE(reverted, ?),
			data, summary, sources, version, COALESCE(created_at, ?)
		FROM wiki_entries
		WHERE user_id IS NOT NULL AND column_name IS NOT NULL AND version IS NOT NULL`,
		false, time.Now().UTC()).Error
}
