package database

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hugh/go-shepherd/internal/database/models"
	"github.com/hugh/go-shepherd/pkg/config"
)

// Connect opens the PostgreSQL store.
func Connect(cfg *config.DatabaseConfig, log *slog.Logger) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Warn)
	if cfg.SSLMode == "disable" {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := Open(postgres.Open(cfg.DSN()), gormLogger)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying db: %w", err)
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)

	log.Info("connected to database", "host", cfg.Host, "database", cfg.Name)

	return db, nil
}

// Open wraps gorm.Open with the settings every dialect shares. Driver errors
// are translated so unique violations surface as gorm.ErrDuplicatedKey.
func Open(dialector gorm.Dialector, gormLogger logger.Interface) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

// activeFollowUpIndex backs the single-open-assignment rule in the store
// itself: a second non-terminal row for the same guest fails to insert.
const activeFollowUpIndex = `CREATE UNIQUE INDEX IF NOT EXISTS idx_followup_active_guest
	ON follow_up_assignments (guest_id)
	WHERE status NOT IN ('completed', 'reassigned')`

func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Tenant{},
		&models.Principal{},
		&models.InvitationToken{},
		&models.FollowUpAssignment{},
		&models.Notification{},
	); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}

	if err := db.Exec(activeFollowUpIndex).Error; err != nil {
		return fmt.Errorf("creating follow-up index: %w", err)
	}
	return nil
}
