package models

import (
	"time"
)

// MailboxSyncState is the per-folder high-water mark of the poller.
type MailboxSyncState struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	MailboxID   string    `gorm:"column:mailbox_id;type:varchar(255);uniqueIndex:idx_mailbox_folder;not null"`
	FolderName  string    `gorm:"column:folder_name;type:varchar(255);uniqueIndex:idx_mailbox_folder;not null"`
	UIDValidity uint32    `gorm:"column:uid_validity;not null;default:0"`
	LastUID     uint32    `gorm:"column:last_uid;not null;default:0"`
	LastSync    time.Time `gorm:"column:last_sync;type:timestamp;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt   time.Time `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
}

func (MailboxSyncState) TableName() string {
	return "mailbox_sync_states"
}
