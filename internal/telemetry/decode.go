package telemetry

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrUnknownPayload is returned when a payload is neither valid JSON nor a
// fixed-layout binary record. Callers count it as an ingestion error and
// drop the message; it is never worth retrying.
var ErrUnknownPayload = errors.New("payload matches no known telemetry format")

// BinaryMessageSize is the exact length of a binary telemetry record:
// six little-endian float32 values followed by one uint32.
const BinaryMessageSize = 6*4 + 4

// Raw is a decoded but not yet normalized telemetry record. The timestamp is
// kept as the wire string because repair of missing or malformed values is
// the normalizer's job, not the decoder's.
type Raw struct {
	Timestamp string  `json:"timestamp"`
	Speed     float64 `json:"speed_ms"`
	Voltage   float64 `json:"voltage_v"`
	Current   float64 `json:"current_a"`
	Power     float64 `json:"power_w"`
	Energy    float64 `json:"energy_j"`
	Distance  float64 `json:"distance_m"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
	GyroX     float64 `json:"gyro_x"`
	GyroY     float64 `json:"gyro_y"`
	GyroZ     float64 `json:"gyro_z"`
	AccelX    float64 `json:"accel_x"`
	AccelY    float64 `json:"accel_y"`
	AccelZ    float64 `json:"accel_z"`

	TotalAccel float64 `json:"total_acceleration"`
	MessageID  uint32  `json:"message_id"`
	Uptime     float64 `json:"uptime_seconds"`
}

// Decode attempts to decode a raw payload, trying the structured JSON form
// first and falling back to the fixed binary layout. A payload that matches
// neither yields ErrUnknownPayload.
func Decode(payload []byte) (Raw, error) {
	if r, err := DecodeJSON(payload); err == nil {
		return r, nil
	}
	if r, err := DecodeBinary(payload); err == nil {
		return r, nil
	}
	return Raw{}, ErrUnknownPayload
}

// DecodeJSON decodes a structured text record.
func DecodeJSON(payload []byte) (Raw, error) {
	var r Raw
	if err := json.Unmarshal(payload, &r); err != nil {
		return Raw{}, fmt.Errorf("json decode: %w", err)
	}
	return r, nil
}

// DecodeBinary decodes the fixed little-endian layout emitted by the vehicle
// firmware: speed, voltage, current, latitude, longitude, altitude as
// float32, then the message sequence number as uint32. The payload length
// must match exactly; there is no partial decode. Power is derived from
// voltage and current because the binary form does not carry it.
func DecodeBinary(payload []byte) (Raw, error) {
	if len(payload) != BinaryMessageSize {
		return Raw{}, fmt.Errorf("binary decode: length %d, want %d", len(payload), BinaryMessageSize)
	}
	f := func(i int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:])))
	}
	r := Raw{
		Speed:     f(0),
		Voltage:   f(1),
		Current:   f(2),
		Latitude:  f(3),
		Longitude: f(4),
		Altitude:  f(5),
		MessageID: binary.LittleEndian.Uint32(payload[24:]),
	}
	r.Power = r.Voltage * r.Current
	return r, nil
}

// EncodeBinary packs a record into the fixed binary layout. It is the
// inverse of DecodeBinary for the six float channels and the sequence
// number, and exists mainly for feed tooling and tests.
func EncodeBinary(r Raw) []byte {
	buf := make([]byte, BinaryMessageSize)
	for i, v := range []float64{r.Speed, r.Voltage, r.Current, r.Latitude, r.Longitude, r.Altitude} {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	}
	binary.LittleEndian.PutUint32(buf[24:], r.MessageID)
	return buf
}
