// Package telemetry defines the canonical vehicle telemetry sample, the wire
// decoders for the push feed, and the normalization step that turns a raw
// decoded record into a sample tagged with session and provenance.
package telemetry

import "time"

// Source identifies which ingestion path produced a sample.
type Source string

const (
	// SourceRealtime marks samples delivered by the live push feed.
	SourceRealtime Source = "realtime"
	// SourceBulkCurrent marks samples bulk-fetched for the active session.
	SourceBulkCurrent Source = "bulk-current"
	// SourceBulkHistorical marks samples bulk-fetched for a past session.
	SourceBulkHistorical Source = "bulk-historical"
	// SourceSynthetic marks samples produced by the built-in simulator.
	SourceSynthetic Source = "synthetic"
)

// Sample is one timestamped telemetry reading with the full channel set.
// Timestamps are always UTC. Channels that were absent on the wire are zero;
// analysis layers represent gaps as NaN after extraction.
type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
	SessionLabel string    `json:"session_name"`

	Speed    float64 `json:"speed_ms"`
	Voltage  float64 `json:"voltage_v"`
	Current  float64 `json:"current_a"`
	Power    float64 `json:"power_w"`
	Energy   float64 `json:"energy_j"`
	Distance float64 `json:"distance_m"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`

	GyroX float64 `json:"gyro_x"`
	GyroY float64 `json:"gyro_y"`
	GyroZ float64 `json:"gyro_z"`

	AccelX     float64 `json:"accel_x"`
	AccelY     float64 `json:"accel_y"`
	AccelZ     float64 `json:"accel_z"`
	TotalAccel float64 `json:"total_acceleration"`

	MessageID uint32  `json:"message_id"`
	Uptime    float64 `json:"uptime_seconds"`

	Source Source `json:"data_source"`
}

// DedupKey is the identity of a sample inside a merged timeline. MessageID
// zero means the producer did not assign one, in which case the timestamp
// alone identifies the row.
type DedupKey struct {
	UnixNano  int64
	MessageID uint32
}

// Key returns the dedup key for s.
func (s Sample) Key() DedupKey {
	return DedupKey{UnixNano: s.Timestamp.UnixNano(), MessageID: s.MessageID}
}
