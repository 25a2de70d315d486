// Package models defines the database models for the voting pool daemon.
package models

import "time"

// HostEvent is one prefixed host chain event, stored in application order so
// the engine can be rebuilt by replay.
type HostEvent struct {
	ID        uint   `gorm:"primaryKey"`
	Height    int64  `gorm:"index:ux_height_index,unique;not null"`
	Index     int    `gorm:"column:event_index;index:ux_height_index,unique;not null"`
	Type      string `gorm:"size:32;index"`
	Attrs     string `gorm:"type:text"` // JSON object of attribute key/value pairs
	Applied   bool   `gorm:"index"`
	Error     string `gorm:"size:512"`  // rejection reason when not applied
	CreatedAt time.Time
}

// SyncState records the last host height fully processed.
type SyncState struct {
	ID        uint  `gorm:"primaryKey"`
	Height    int64 `gorm:"not null"`
	UpdatedAt time.Time
}
