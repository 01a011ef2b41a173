package domain

import (
	"time"
)

// InstrumentRecord is the persisted form of an Instrument (last-known-good catalog).
type InstrumentRecord struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	APIVersion  string    `gorm:"primaryKey" json:"api_version"`
	Precision   int32     `json:"precision"`
	MinQuantity string    `json:"min_quantity"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AppConfig represents runtime state that outlives the process (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
