package model

import "time"

// Cursor is the persisted reconciliation bookmark of a dataset. Every record
// with an id at or below LastProcessedID was normalized or attempted when
// the cursor was last saved.
type Cursor struct {
	Dataset         Dataset `gorm:"type:varchar(16);primaryKey"`
	LastProcessedID uint64  `gorm:"not null;default:0"`
	UpdatedAt       time.Time
}

func (Cursor) TableName() string {
	return "normalization_cursors"
}

func NewCursor(dataset Dataset) Cursor {
	return Cursor{Dataset: dataset}
}

// Advance returns a copy of the cursor moved to id. It never moves backwards.
func (c Cursor) Advance(id uint64) Cursor {
	if id > c.LastProcessedID {
		c.LastProcessedID = id
	}
	return c
}

// Rewind returns a copy of the cursor pointing before the first record.
func (c Cursor) Rewind() Cursor {
	c.LastProcessedID = 0
	return c
}
