package model

import "time"

// NormalizationLogEntry records a canonical role id written by the routine,
// so that the write can be rolled back later.
type NormalizationLogEntry struct {
	ID              uint64  `gorm:"primaryKey;autoIncrement"`
	Dataset         Dataset `gorm:"type:varchar(16);not null;uniqueIndex:idx_normalization_log_record,priority:1"`
	RecordID        uint64  `gorm:"not null;uniqueIndex:idx_normalization_log_record,priority:2"`
	OwnerID         uint64  `gorm:"not null;default:0"`
	CanonicalRoleID int64   `gorm:"not null"`
	CreatedAt       time.Time
}

func (NormalizationLogEntry) TableName() string {
	return "normalization_log"
}
