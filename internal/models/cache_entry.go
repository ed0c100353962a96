package models

import (
	"time"
)

// CacheEntry backs the database cache store used when Redis is disabled.
type CacheEntry struct {
	Key       string `gorm:"primaryKey;size:256"`
	Value     []byte
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
