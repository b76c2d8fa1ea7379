package database

import (
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"github.com/ramsingla/acts-as-wiki/internal/records"
	"github.com/ramsingla/acts-as-wiki/internal/revisions"
	"github.com/ramsingla/acts-as-wiki/internal/users"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	// DriverSQLite selects the embedded SQLite driver.
	DriverSQLite = "sqlite"
	// DriverPostgres selects the PostgreSQL driver.
	DriverPostgres = "postgres"
)

// Settings selects and addresses the backing database.
type Settings struct {
	Driver string
	Path   string
	DSN    string
}

// Open connects to the configured database and performs schema migrations.
func Open(settings Settings, logger *zap.Logger) (*gorm.DB, error) {
	db, err := Connect(settings)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db, logger); err != nil {
		return nil, err
	}
	if logger != nil {
		logger.Info("database initialized",
			zap.String("driver", driverName(settings.Driver)),
			zap.String("path", settings.Path))
	}
	return db, nil
}

// Connect opens the database without touching the schema.
func Connect(settings Settings) (*gorm.DB, error) {
	gormConfig := &gorm.Config{TranslateError: true}
	switch driverName(settings.Driver) {
	case DriverSQLite:
		return openSQLite(settings.Path, gormConfig)
	case DriverPostgres:
		if strings.TrimSpace(settings.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required for driver %s", DriverPostgres)
		}
		return gorm.Open(postgres.Open(settings.DSN), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", settings.Driver)
	}
}

// Migrate creates or updates every table and applies pending named migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&users.User{}, &records.Record{}, &revisions.Revision{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}

func openSQLite(path string, gormConfig *gorm.Config) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), gormConfig)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func driverName(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return DriverSQLite
	}
	return normalized
}
