package store

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type txKey struct{}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return nil
}

// inTransaction runs fn with a context carrying one transaction. It commits
// when fn returns nil and rolls back otherwise. A context already carrying a
// transaction is reused as is.
func inTransaction(ctx context.Context, db *gorm.DB, fn func(ctx context.Context) error) error {
	if FromContext(ctx) != nil {
		return fn(ctx)
	}

	var fnErr error
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(context.WithValue(ctx, txKey{}, tx))
		return fnErr
	})
	switch {
	case err == nil:
		return nil
	case fnErr != nil:
		if !errors.Is(err, fnErr) {
			zap.S().Named("transaction").Errorw("failed to roll back transaction", "error", err)
		}
		return fnErr
	default:
		return NewErrStorageUnavailable("committing transaction", err)
	}
}
