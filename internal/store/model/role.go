package model

import (
	"fmt"
	"strings"
	"time"
)

type Dataset string

const (
	DatasetCV      Dataset = "cv"
	DatasetWorkExp Dataset = "work_exp"
	DatasetJob     Dataset = "job"
)

var Datasets = []Dataset{DatasetCV, DatasetWorkExp, DatasetJob}

func ParseDataset(s string) (Dataset, error) {
	switch d := Dataset(strings.ToLower(strings.TrimSpace(s))); d {
	case DatasetCV, DatasetWorkExp, DatasetJob:
		return d, nil
	default:
		return "", fmt.Errorf("unknown dataset %q: must be one of cv, work_exp, job", s)
	}
}

func (d Dataset) String() string {
	return string(d)
}

// RoleRecord is a free-text role title waiting for (or carrying) a canonical role id.
// OwnerID is the user for cv/work_exp records and the company for jobs.
type RoleRecord struct {
	ID              uint64     `gorm:"primaryKey;autoIncrement"`
	Dataset         Dataset    `gorm:"type:varchar(16);not null;index:idx_role_records_pending,priority:1"`
	OwnerID         uint64     `gorm:"not null;default:0"`
	RawTitle        string     `gorm:"type:text;not null"`
	CanonicalRoleID *int64     `gorm:"index:idx_role_records_pending,priority:2"`
	LastAttemptAt   *time.Time `gorm:"index"`
}

func (RoleRecord) TableName() string {
	return "role_records"
}

func (r RoleRecord) Normalized() bool {
	return r.CanonicalRoleID != nil
}

// NormalizationResult is the outcome of one attempt for one record.
// A nil RoleID means the service had no confident match this time.
type NormalizationResult struct {
	RecordID    uint64
	OwnerID     uint64
	RoleID      *int64
	AttemptedAt time.Time
}

func (n NormalizationResult) Matched() bool {
	return n.RoleID != nil
}
