package store

import (
	"context"

	"github.com/kubev2v/role-normalizer/internal/store/model"
	"gorm.io/gorm"
)

type NormalizationLog interface {
	// List returns up to limit entries of dataset with an id greater than afterID, in id order.
	List(ctx context.Context, dataset model.Dataset, afterID uint64, limit int) ([]model.NormalizationLogEntry, error)
	Count(ctx context.Context, dataset model.Dataset) (int64, error)
}

type NormalizationLogStore struct {
	db *gorm.DB
}

var _ NormalizationLog = (*NormalizationLogStore)(nil)

func NewNormalizationLogStore(db *gorm.DB) NormalizationLog {
	return &NormalizationLogStore{db: db}
}

func (n *NormalizationLogStore) List(ctx context.Context, dataset model.Dataset, afterID uint64, limit int) ([]model.NormalizationLogEntry, error) {
	var entries []model.NormalizationLogEntry
	err := n.getDB(ctx).
		Where("dataset = ? AND id > ?", dataset, afterID).
		Order("id").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, NewErrStorageUnavailable("listing normalization log", err)
	}
	return entries, nil
}

func (n *NormalizationLogStore) Count(ctx context.Context, dataset model.Dataset) (int64, error) {
	var count int64
	if err := n.getDB(ctx).Model(&model.NormalizationLogEntry{}).Where("dataset = ?", dataset).Count(&count).Error; err != nil {
		return 0, NewErrStorageUnavailable("counting normalization log", err)
	}
	return count, nil
}

func (n *NormalizationLogStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return n.db.WithContext(ctx)
}
