package store

import (
	"context"

	"github.com/kubev2v/role-normalizer/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	// InTransaction runs fn in one transaction, committed when fn returns nil.
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Record() Record
	Cursor() Cursor
	NormalizationLog() NormalizationLog
	InitialMigration(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db               *gorm.DB
	record           Record
	cursor           Cursor
	normalizationLog NormalizationLog
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		record:           NewRecordStore(db),
		cursor:           NewCursorStore(db),
		normalizationLog: NewNormalizationLogStore(db),
		db:               db,
	}
}

func (s *DataStore) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return inTransaction(ctx, s.db, fn)
}

func (s *DataStore) Record() Record {
	return s.record
}

func (s *DataStore) Cursor() Cursor {
	return s.cursor
}

func (s *DataStore) NormalizationLog() NormalizationLog {
	return s.normalizationLog
}

// InitialMigration creates the schema from the gorm models. Production
// postgres databases are migrated with goose instead (see pkg/migrations).
func (s *DataStore) InitialMigration(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&model.RoleRecord{},
		&model.Cursor{},
		&model.NormalizationLogEntry{},
	)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
