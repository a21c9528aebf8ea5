package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/customeros/rfqstack/interfaces"
	"github.com/customeros/rfqstack/internal/models"
)

type Repositories struct {
	IngestionRequestRepository interfaces.IngestionRequestRepository
	AttachmentRepository       interfaces.AttachmentRepository
	MailboxSyncRepository      interfaces.MailboxSyncRepository
}

func InitRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		IngestionRequestRepository: NewIngestionRequestRepository(db),
		AttachmentRepository:       NewAttachmentRepository(db),
		MailboxSyncRepository:      NewMailboxSyncRepository(db),
	}
}

type MigrationPoolConfig struct {
	MaxConn         int
	MaxIdleConn     int
	ConnMaxLifetime int
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.IngestionRequest{},
		&models.Attachment{},
		&models.MailboxSyncState{},
	)
}

// MigrateDB runs migrations on a narrow pool and then restores the configured pool size.
func MigrateDB(pool MigrationPoolConfig, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	sqlDB.SetMaxOpenConns(5)

	err = Migrate(db)

	if pool.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConn)
	}
	if pool.MaxConn > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxConn)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetime) * time.Minute)
	}

	return err
}
