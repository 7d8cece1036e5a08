// Package config loads the bridge configuration. Files are JSON with
// pointer-typed optional fields so partial configs are safe: anything
// omitted keeps its default. Missing mandatory connection parameters are a
// startup failure, never a mid-run one.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// BridgeConfig is the resolved runtime configuration.
type BridgeConfig struct {
	// DatabasePath is the SQLite file backing durable telemetry storage.
	DatabasePath string

	// FeedChannel is the push-source channel the bridge subscribes to.
	FeedChannel string
	// DashboardChannel is the channel live samples are republished on.
	DashboardChannel string

	// BatchInterval is the wall-clock period of the durable batch writer.
	BatchInterval time.Duration
	// MaxBatchSize forces a flush when the persistence buffer reaches it,
	// bounding worst-case memory independent of the timer.
	MaxBatchSize int

	// QueueHighWater and QueueLowWater govern lossy eviction from the
	// bounded live-delivery queue.
	QueueHighWater int
	QueueLowWater  int

	// RepublishInterval is the live-queue polling period; RepublishBatch
	// caps samples published per cycle.
	RepublishInterval time.Duration
	RepublishBatch    int

	// PageSize is the backend's maximum rows per request. PageDelay paces
	// consecutive page fetches. MaxRowsPerSession is the hard safety cap
	// on one session's bulk fetch.
	PageSize          int
	PageDelay         time.Duration
	MaxRowsPerSession int

	// MergeInterval is the cadence of the merge/quality cycle.
	MergeInterval time.Duration

	// SimulatorInterval is the synthetic generator cadence in mock mode.
	SimulatorInterval time.Duration
}

// DefaultConfig returns the canonical defaults, matching the deployed
// vehicle bridge.
func DefaultConfig() BridgeConfig {
	return BridgeConfig{
		DatabasePath:      "telemetry.db",
		FeedChannel:       "EcoTele",
		DashboardChannel:  "telemetry-dashboard-channel",
		BatchInterval:     9 * time.Second,
		MaxBatchSize:      100,
		QueueHighWater:    500,
		QueueLowWater:     250,
		RepublishInterval: 100 * time.Millisecond,
		RepublishBatch:    10,
		PageSize:          1000,
		PageDelay:         100 * time.Millisecond,
		MaxRowsPerSession: 1_000_000,
		MergeInterval:     2 * time.Second,
		SimulatorInterval: 2 * time.Second,
	}
}

// fileConfig is the JSON schema. Pointer fields distinguish "omitted" from
// "zero"; omitted fields keep their defaults.
type fileConfig struct {
	DatabasePath     *string `json:"database_path,omitempty"`
	FeedChannel      *string `json:"feed_channel,omitempty"`
	DashboardChannel *string `json:"dashboard_channel,omitempty"`

	BatchInterval *string `json:"batch_interval,omitempty"` // duration string like "9s"
	MaxBatchSize  *int    `json:"max_batch_size,omitempty"`

	QueueHighWater *int `json:"queue_high_water,omitempty"`
	QueueLowWater  *int `json:"queue_low_water,omitempty"`

	RepublishInterval *string `json:"republish_interval,omitempty"`
	RepublishBatch    *int    `json:"republish_batch,omitempty"`

	PageSize          *int    `json:"page_size,omitempty"`
	PageDelay         *string `json:"page_delay,omitempty"`
	MaxRowsPerSession *int    `json:"max_rows_per_session,omitempty"`

	MergeInterval     *string `json:"merge_interval,omitempty"`
	SimulatorInterval *string `json:"simulator_interval,omitempty"`
}

// Load reads a JSON config file and resolves it over the defaults. The file
// is validated to have a .json extension and to be under the max file size.
func Load(path string) (BridgeConfig, error) {
	cfg := DefaultConfig()

	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return cfg, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return cfg, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := apply(&cfg, &fc); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func apply(cfg *BridgeConfig, fc *fileConfig) error {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setDuration := func(dst *time.Duration, src *string, name string) error {
		if src == nil {
			return nil
		}
		d, err := time.ParseDuration(*src)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, *src, err)
		}
		*dst = d
		return nil
	}

	setString(&cfg.DatabasePath, fc.DatabasePath)
	setString(&cfg.FeedChannel, fc.FeedChannel)
	setString(&cfg.DashboardChannel, fc.DashboardChannel)
	setInt(&cfg.MaxBatchSize, fc.MaxBatchSize)
	setInt(&cfg.QueueHighWater, fc.QueueHighWater)
	setInt(&cfg.QueueLowWater, fc.QueueLowWater)
	setInt(&cfg.RepublishBatch, fc.RepublishBatch)
	setInt(&cfg.PageSize, fc.PageSize)
	setInt(&cfg.MaxRowsPerSession, fc.MaxRowsPerSession)

	for _, d := range []struct {
		dst  *time.Duration
		src  *string
		name string
	}{
		{&cfg.BatchInterval, fc.BatchInterval, "batch_interval"},
		{&cfg.RepublishInterval, fc.RepublishInterval, "republish_interval"},
		{&cfg.PageDelay, fc.PageDelay, "page_delay"},
		{&cfg.MergeInterval, fc.MergeInterval, "merge_interval"},
		{&cfg.SimulatorInterval, fc.SimulatorInterval, "simulator_interval"},
	} {
		if err := setDuration(d.dst, d.src, d.name); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the resolved configuration. Failures here are fatal at
// startup.
func (c BridgeConfig) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.FeedChannel == "" {
		return fmt.Errorf("feed_channel is required")
	}
	if c.DashboardChannel == "" {
		return fmt.Errorf("dashboard_channel is required")
	}
	if c.BatchInterval <= 0 {
		return fmt.Errorf("batch_interval must be positive, got %v", c.BatchInterval)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive, got %d", c.MaxBatchSize)
	}
	if c.QueueLowWater <= 0 || c.QueueHighWater <= c.QueueLowWater {
		return fmt.Errorf("queue watermarks must satisfy 0 < low (%d) < high (%d)",
			c.QueueLowWater, c.QueueHighWater)
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive, got %d", c.PageSize)
	}
	if c.MaxRowsPerSession < c.PageSize {
		return fmt.Errorf("max_rows_per_session (%d) must be at least page_size (%d)",
			c.MaxRowsPerSession, c.PageSize)
	}
	return nil
}
