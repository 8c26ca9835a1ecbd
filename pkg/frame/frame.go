// Package frame defines the frame collaborator consumed by the timestamp
// pipeline.
package frame

import (
	"sync"
)

// MetadataType identifies a per-frame metadata field.
type MetadataType uint8

const (
	MetadataTimestamp MetadataType = iota
	MetadataSensorTimestamp
	MetadataFrameNumber
	MetadataActualFrameRate
	MetadataExposure
	MetadataGain
	MetadataAutoExposure
	MetadataLaserPower
	MetadataLaserStatus
	MetadataGPIOInputData
)

// String returns the metadata field name.
func (m MetadataType) String() string {
	names := []string{
		"TIMESTAMP", "SENSOR_TIMESTAMP", "FRAME_NUMBER", "ACTUAL_FRAME_RATE",
		"EXPOSURE", "GAIN", "AUTO_EXPOSURE", "LASER_POWER", "LASER_STATUS",
		"GPIO_INPUT_DATA",
	}
	if int(m) < len(names) {
		return names[m]
	}
	return "UNKNOWN"
}

// ParseMetadataType parses a metadata field name as returned by String.
func ParseMetadataType(s string) (MetadataType, bool) {
	for m := MetadataTimestamp; m <= MetadataGPIOInputData; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return 0, false
}

// SensorType identifies the sensor a frame came from.
type SensorType uint8

const (
	SensorUnknown SensorType = iota
	SensorDepth
	SensorIR
	SensorIRLeft
	SensorIRRight
	SensorColor
	SensorAccel
	SensorGyro
)

// String returns the sensor name.
func (s SensorType) String() string {
	names := []string{"unknown", "depth", "ir", "ir_left", "ir_right", "color", "accel", "gyro"}
	if int(s) < len(names) {
		return names[s]
	}
	return "unknown"
}

// ParseSensorType parses a sensor name as returned by String.
func ParseSensorType(s string) (SensorType, bool) {
	for t := SensorDepth; t <= SensorGyro; t++ {
		if t.String() == s {
			return t, true
		}
	}
	return SensorUnknown, false
}

// Frame is the view of a frame used by timestamp calculators. All
// timestamps are microseconds; 0 means unknown.
type Frame interface {
	TimestampUsec() uint64
	SetTimestampUsec(ts uint64)
	GlobalTimestampUsec() uint64
	SetGlobalTimestampUsec(ts uint64)
	HasMetadata(field MetadataType) bool
	MetadataValue(field MetadataType) int64
}

// VideoFrame is a frame with a metadata table.
type VideoFrame struct {
	mu sync.RWMutex

	number       uint64
	sensor       SensorType
	timestamp    uint64
	global       uint64
	systemTsUsec uint64
	metadata     map[MetadataType]int64
	data         []byte
}

// NewVideoFrame creates a frame from sensor with the given frame number and
// host arrival time.
func NewVideoFrame(sensor SensorType, number uint64, systemTsUsec uint64) *VideoFrame {
	return &VideoFrame{
		sensor:       sensor,
		number:       number,
		systemTsUsec: systemTsUsec,
		metadata:     make(map[MetadataType]int64),
	}
}

// Number returns the frame number.
func (f *VideoFrame) Number() uint64 { return f.number }

// Sensor returns the sensor the frame came from.
func (f *VideoFrame) Sensor() SensorType { return f.sensor }

// SystemTimestampUsec returns the host time at which the frame arrived.
func (f *VideoFrame) SystemTimestampUsec() uint64 { return f.systemTsUsec }

// Data returns the frame payload.
func (f *VideoFrame) Data() []byte { return f.data }

// SetData sets the frame payload.
func (f *VideoFrame) SetData(b []byte) { f.data = b }

func (f *VideoFrame) TimestampUsec() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.timestamp
}

func (f *VideoFrame) SetTimestampUsec(ts uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timestamp = ts
}

func (f *VideoFrame) GlobalTimestampUsec() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.global
}

func (f *VideoFrame) SetGlobalTimestampUsec(ts uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.global = ts
}

func (f *VideoFrame) HasMetadata(field MetadataType) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.metadata[field]
	return ok
}

// MetadataValue returns the value of field, or 0 if absent.
func (f *VideoFrame) MetadataValue(field MetadataType) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.metadata[field]
}

// SetMetadata sets a metadata field.
func (f *VideoFrame) SetMetadata(field MetadataType, v int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata[field] = v
}

var _ Frame = (*VideoFrame)(nil)
