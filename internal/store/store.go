// Package store persists the runtime-mutable option maps so sensor links
// and offset overrides survive bridge restarts.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const optionsKey = "runtime_options"

type Store struct {
	db *sql.DB
}

// Options mirrors the connector's runtime-mutable configuration.
type Options struct {
	DeviceIDOverrides   map[string]string   `json:"device_id_overrides,omitempty"`
	DeviceOffsets       map[string]float64  `json:"device_offsets,omitempty"`
	DeviceZoneMap       map[string]string   `json:"device_zone_map,omitempty"`
	ZoneSensorMap       map[string][]string `json:"zone_sensor_map,omitempty"`
	ScanIntervalSeconds int                 `json:"scan_interval_seconds,omitempty"`
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS options (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create options table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadOptions returns the persisted runtime options, or nil when none have
// been saved yet.
func (s *Store) LoadOptions() (*Options, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM options WHERE key = ?`, optionsKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load runtime options: %w", err)
	}
	var opts Options
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return nil, fmt.Errorf("failed to parse runtime options: %w", err)
	}
	return &opts, nil
}

func (s *Store) SaveOptions(opts *Options) error {
	raw, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("failed to serialize runtime options: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO options (key, value, updated_at) VALUES (?, ?, ?)`,
		optionsKey, string(raw), time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save runtime options: %w", err)
	}
	return nil
}
