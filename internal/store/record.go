package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kubev2v/role-normalizer/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Record interface {
	// NextBatch returns up to limit un-normalized records of the cursor's dataset
	// strictly after the cursor, in id order, and the cursor moved past them.
	// Records attempted at or after retryBefore are left out.
	NextBatch(ctx context.Context, cursor model.Cursor, limit int, retryBefore time.Time) ([]model.RoleRecord, model.Cursor, error)
	// Apply persists normalization results and returns the number of rows changed.
	// Applying the same results twice changes nothing the second time.
	Apply(ctx context.Context, dataset model.Dataset, results []model.NormalizationResult) (int64, error)
	// Reset clears canonical ids previously written by the routine, skipping
	// records whose id was changed by someone else since.
	Reset(ctx context.Context, entries []model.NormalizationLogEntry) (int64, error)
	List(ctx context.Context, filter *RecordQueryFilter, opts *RecordQueryOptions) ([]model.RoleRecord, error)
	Get(ctx context.Context, id uint64) (*model.RoleRecord, error)
	Create(ctx context.Context, records ...model.RoleRecord) ([]model.RoleRecord, error)
}

type RecordStore struct {
	db *gorm.DB
}

// Make sure we conform to Record interface
var _ Record = (*RecordStore)(nil)

func NewRecordStore(db *gorm.DB) Record {
	return &RecordStore{db: db}
}

func (r *RecordStore) NextBatch(ctx context.Context, cursor model.Cursor, limit int, retryBefore time.Time) ([]model.RoleRecord, model.Cursor, error) {
	if limit <= 0 {
		return nil, cursor, fmt.Errorf("invalid batch limit %d", limit)
	}

	filter := NewRecordQueryFilter().
		ByDataset(cursor.Dataset).
		AfterID(cursor.LastProcessedID).
		Pending().
		NotAttemptedSince(retryBefore)
	opts := NewRecordQueryOptions().WithSortOrder(SortByID).WithLimit(limit)

	records, err := r.List(ctx, filter, opts)
	if err != nil {
		return nil, cursor, NewErrStorageUnavailable("selecting records", err)
	}
	if len(records) == 0 {
		return records, cursor, nil
	}

	return records, cursor.Advance(records[len(records)-1].ID), nil
}

func (r *RecordStore) List(ctx context.Context, filter *RecordQueryFilter, opts *RecordQueryOptions) ([]model.RoleRecord, error) {
	var records []model.RoleRecord
	tx := r.getDB(ctx).Model(&records)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	if err := tx.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *RecordStore) Get(ctx context.Context, id uint64) (*model.RoleRecord, error) {
	var record model.RoleRecord
	if err := r.getDB(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *RecordStore) Create(ctx context.Context, records ...model.RoleRecord) ([]model.RoleRecord, error) {
	if len(records) == 0 {
		return records, nil
	}
	if err := r.getDB(ctx).Create(&records).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, err
	}
	return records, nil
}

func (r *RecordStore) Apply(ctx context.Context, dataset model.Dataset, results []model.NormalizationResult) (int64, error) {
	if len(results) == 0 {
		return 0, nil
	}

	var changed int64
	err := r.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		changed = 0
		for _, res := range results {
			n, err := applyOne(tx, dataset, res)
			if err != nil {
				return err
			}
			changed += n
		}
		return nil
	})
	if err != nil {
		return 0, NewErrStorageUnavailable("applying results", err)
	}

	return changed, nil
}

func applyOne(tx *gorm.DB, dataset model.Dataset, res model.NormalizationResult) (int64, error) {
	// postgres keeps microseconds; truncating keeps re-applies comparable
	at := res.AttemptedAt.UTC().Truncate(time.Microsecond)

	if !res.Matched() {
		result := tx.Model(&model.RoleRecord{}).
			Where("id = ? AND dataset = ? AND canonical_role_id IS NULL", res.RecordID, dataset).
			Where("(last_attempt_at IS NULL OR last_attempt_at < ?)", at).
			Update("last_attempt_at", at)
		return result.RowsAffected, result.Error
	}

	result := tx.Model(&model.RoleRecord{}).
		Where("id = ? AND dataset = ? AND canonical_role_id IS NULL", res.RecordID, dataset).
		Updates(map[string]any{
			"canonical_role_id": *res.RoleID,
			"last_attempt_at":   at,
		})
	if result.Error != nil || result.RowsAffected == 0 {
		return result.RowsAffected, result.Error
	}

	entry := model.NormalizationLogEntry{
		Dataset:         dataset,
		RecordID:        res.RecordID,
		OwnerID:         res.OwnerID,
		CanonicalRoleID: *res.RoleID,
		CreatedAt:       at,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dataset"}, {Name: "record_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"canonical_role_id", "owner_id", "created_at"}),
	}).Create(&entry).Error

	return result.RowsAffected, err
}

func (r *RecordStore) Reset(ctx context.Context, entries []model.NormalizationLogEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	var reset int64
	err := r.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		reset = 0
		ids := make([]uint64, 0, len(entries))
		for _, e := range entries {
			result := tx.Model(&model.RoleRecord{}).
				Where("id = ? AND dataset = ? AND canonical_role_id = ?", e.RecordID, e.Dataset, e.CanonicalRoleID).
				Updates(map[string]any{
					"canonical_role_id": gorm.Expr("NULL"),
					"last_attempt_at":   gorm.Expr("NULL"),
				})
			if result.Error != nil {
				return result.Error
			}
			reset += result.RowsAffected
			ids = append(ids, e.ID)
		}
		return tx.Where("id IN ?", ids).Delete(&model.NormalizationLogEntry{}).Error
	})
	if err != nil {
		return 0, NewErrStorageUnavailable("resetting records", err)
	}

	return reset, nil
}

func (r *RecordStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}
