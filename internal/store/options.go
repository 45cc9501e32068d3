package store

import (
	"time"

	"github.com/kubev2v/role-normalizer/internal/store/model"
	"gorm.io/gorm"
)

type SortOrder int

const (
	Unsorted SortOrder = iota
	SortByID
	SortByLastAttempt
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type RecordQueryFilter BaseQuerier

func NewRecordQueryFilter() *RecordQueryFilter {
	return &RecordQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *RecordQueryFilter) ByDataset(dataset model.Dataset) *RecordQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("dataset = ?", dataset)
	})
	return qf
}

func (qf *RecordQueryFilter) AfterID(id uint64) *RecordQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("id > ?", id)
	})
	return qf
}

func (qf *RecordQueryFilter) Pending() *RecordQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("canonical_role_id IS NULL")
	})
	return qf
}

// NotAttemptedSince keeps records never attempted or last attempted before t.
// A zero t disables the filter.
func (qf *RecordQueryFilter) NotAttemptedSince(t time.Time) *RecordQueryFilter {
	if t.IsZero() {
		return qf
	}
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("(last_attempt_at IS NULL OR last_attempt_at < ?)", t)
	})
	return qf
}

type RecordQueryOptions BaseQuerier

func NewRecordQueryOptions() *RecordQueryOptions {
	return &RecordQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *RecordQueryOptions) WithLimit(limit int) *RecordQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

func (o *RecordQueryOptions) WithSortOrder(sort SortOrder) *RecordQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		switch sort {
		case SortByID:
			return tx.Order("id")
		case SortByLastAttempt:
			return tx.Order("last_attempt_at")
		default:
			return tx
		}
	})
	return o
}
