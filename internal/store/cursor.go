package store

import (
	"context"
	"time"

	"github.com/kubev2v/role-normalizer/internal/store/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Cursor interface {
	// Get returns the cursor of dataset, creating it on first use.
	Get(ctx context.Context, dataset model.Dataset) (model.Cursor, error)
	Save(ctx context.Context, cursor model.Cursor) (model.Cursor, error)
	Delete(ctx context.Context, dataset model.Dataset) error
}

type CursorStore struct {
	db *gorm.DB
}

var _ Cursor = (*CursorStore)(nil)

func NewCursorStore(db *gorm.DB) Cursor {
	return &CursorStore{db: db}
}

func (c *CursorStore) Get(ctx context.Context, dataset model.Dataset) (model.Cursor, error) {
	cursor := model.NewCursor(dataset)
	cursor.UpdatedAt = time.Now().UTC()

	result := c.getDB(ctx).
		Where(model.Cursor{Dataset: dataset}).
		FirstOrCreate(&cursor)
	if result.Error != nil {
		return model.Cursor{}, NewErrStorageUnavailable("reading cursor", result.Error)
	}
	return cursor, nil
}

func (c *CursorStore) Save(ctx context.Context, cursor model.Cursor) (model.Cursor, error) {
	cursor.UpdatedAt = time.Now().UTC()

	err := c.getDB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dataset"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_processed_id", "updated_at"}),
	}).Create(&cursor).Error
	if err != nil {
		return model.Cursor{}, NewErrStorageUnavailable("saving cursor", err)
	}
	return cursor, nil
}

func (c *CursorStore) Delete(ctx context.Context, dataset model.Dataset) error {
	err := c.getDB(ctx).Where("dataset = ?", dataset).Delete(&model.Cursor{}).Error
	if err != nil {
		return NewErrStorageUnavailable("deleting cursor", err)
	}
	return nil
}

func (c *CursorStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return c.db.WithContext(ctx)
}
