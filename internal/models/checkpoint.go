package models

import "time"

// Checkpoint is a raw balance checkpoint of a pool depositor. An empty
// Account holds the aggregate.
type Checkpoint struct {
	ID        uint   `gorm:"primaryKey"`
	Account   string `gorm:"size:128;index:ux_account_timepoint,unique"`
	Timepoint int64  `gorm:"index:ux_account_timepoint,unique;index"`
	Value     string `gorm:"size:80"` // decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}
