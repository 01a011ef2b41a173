package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"bitget_relay/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const keyEnvironmentMode = "environment_mode"

// Storage keeps the state worth surviving a restart: the last contract
// listing that loaded successfully and the calibrated environment mode.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the SQLite database at path.
// An empty path resolves to the per-user config directory.
func NewStorage(path string) (*Storage, error) {
	dbPath := path
	if dbPath == "" {
		var err error
		dbPath, err = getDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.InstrumentRecord{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "BitgetRelay", "data", "relay.db"), nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Instrument snapshot
// ======================================================================================

// SaveInstruments replaces the stored snapshot for apiVersion.
func (s *Storage) SaveInstruments(ctx context.Context, apiVersion string, instruments []domain.Instrument) error {
	if len(instruments) == 0 {
		return nil
	}
	now := time.Now()
	records := make([]domain.InstrumentRecord, 0, len(instruments))
	for _, inst := range instruments {
		records = append(records, domain.InstrumentRecord{
			ID:          inst.ID,
			APIVersion:  apiVersion,
			Precision:   inst.Precision,
			MinQuantity: inst.MinQuantity.String(),
			UpdatedAt:   now,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("api_version = ?", apiVersion).Delete(&domain.InstrumentRecord{}).Error; err != nil {
			return err
		}
		return tx.CreateInBatches(records, 200).Error
	})
}

// LoadInstruments returns the stored snapshot for apiVersion; empty if none.
func (s *Storage) LoadInstruments(ctx context.Context, apiVersion string) ([]domain.Instrument, error) {
	var records []domain.InstrumentRecord
	if err := s.db.WithContext(ctx).Where("api_version = ?", apiVersion).Order("id").Find(&records).Error; err != nil {
		return nil, err
	}

	out := make([]domain.Instrument, 0, len(records))
	for _, r := range records {
		minQty, err := decimal.NewFromString(r.MinQuantity)
		if err != nil {
			return nil, fmt.Errorf("stored instrument %s: %w", r.ID, err)
		}
		out = append(out, domain.Instrument{ID: r.ID, Precision: r.Precision, MinQuantity: minQty})
	}
	return out, nil
}

// ======================================================================================
// Environment mode
// ======================================================================================

// SaveMode persists the calibrated environment mode.
func (s *Storage) SaveMode(ctx context.Context, mode domain.EnvironmentMode) error {
	return s.SaveConfig(ctx, keyEnvironmentMode, mode.String())
}

// LoadMode returns the persisted mode; ok is false if none was saved.
func (s *Storage) LoadMode(ctx context.Context) (domain.EnvironmentMode, bool, error) {
	value, ok, err := s.LoadConfig(ctx, keyEnvironmentMode)
	if err != nil || !ok {
		return domain.ModeLive, false, err
	}
	mode, err := domain.ParseEnvironmentMode(value)
	if err != nil {
		return domain.ModeLive, false, err
	}
	return mode, true, nil
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a runtime key/value
func (s *Storage) SaveConfig(ctx context.Context, key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.WithContext(ctx).Save(&config).Error
}

// LoadConfig reads one runtime key/value
func (s *Storage) LoadConfig(ctx context.Context, key string) (string, bool, error) {
	var config domain.AppConfig
	err := s.db.WithContext(ctx).Where(&domain.AppConfig{Key: key}).First(&config).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil // Not found is not an error
	}
	if err != nil {
		return "", false, err
	}
	return config.Value, true, nil
}
