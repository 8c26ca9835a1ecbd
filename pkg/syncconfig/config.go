package syncconfig

import (
	"encoding/binary"
	"fmt"
)

// ConfigSize is the length of the device encoding of a Config.
const ConfigSize = 28

// Config is a multi-device synchronization configuration. Delays are in
// microseconds.
type Config struct {
	Mode Mode `yaml:"mode"`

	// DepthDelayUsec delays the depth sensor after the sync signal.
	DepthDelayUsec int32 `yaml:"depth_delay_us"`

	// ColorDelayUsec delays the color sensor after the sync signal.
	ColorDelayUsec int32 `yaml:"color_delay_us"`

	// TriggerToImageDelayUsec is the delay from trigger to exposure.
	TriggerToImageDelayUsec int32 `yaml:"trigger_to_image_delay_us"`

	// TriggerOutEnable forwards the trigger on the sync-out line.
	TriggerOutEnable bool `yaml:"trigger_out_enable"`

	TriggerOutDelayUsec int32 `yaml:"trigger_out_delay_us"`

	// FramesPerTrigger is the number of frames captured per trigger in
	// the triggering modes.
	FramesPerTrigger int32 `yaml:"frames_per_trigger"`
}

// DefaultConfig returns a free-running configuration.
func DefaultConfig() Config {
	return Config{Mode: ModeFreeRun, FramesPerTrigger: 1}
}

// Validate checks field ranges. It does not check the mode against a
// device whitelist.
func (c Config) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("invalid sync mode %s", c.Mode)
	}
	if c.DepthDelayUsec < 0 || c.ColorDelayUsec < 0 || c.TriggerToImageDelayUsec < 0 || c.TriggerOutDelayUsec < 0 {
		return fmt.Errorf("negative delay")
	}
	if c.Mode.IsTriggered() && c.FramesPerTrigger < 1 {
		return fmt.Errorf("frames per trigger must be at least 1 in %s", c.Mode)
	}
	return nil
}

// MarshalBinary encodes c in the device's little-endian layout.
func (c Config) MarshalBinary() ([]byte, error) {
	b := make([]byte, ConfigSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(c.Mode))
	binary.LittleEndian.PutUint32(b[4:], uint32(c.DepthDelayUsec))
	binary.LittleEndian.PutUint32(b[8:], uint32(c.ColorDelayUsec))
	binary.LittleEndian.PutUint32(b[12:], uint32(c.TriggerToImageDelayUsec))
	if c.TriggerOutEnable {
		b[16] = 1
	}
	binary.LittleEndian.PutUint32(b[20:], uint32(c.TriggerOutDelayUsec))
	binary.LittleEndian.PutUint32(b[24:], uint32(c.FramesPerTrigger))
	return b, nil
}

// UnmarshalBinary decodes the device layout.
func (c *Config) UnmarshalBinary(b []byte) error {
	if len(b) < ConfigSize {
		return fmt.Errorf("sync config: need %d bytes, got %d", ConfigSize, len(b))
	}
	*c = Config{
		Mode:                    Mode(binary.LittleEndian.Uint32(b[0:])),
		DepthDelayUsec:          int32(binary.LittleEndian.Uint32(b[4:])),
		ColorDelayUsec:          int32(binary.LittleEndian.Uint32(b[8:])),
		TriggerToImageDelayUsec: int32(binary.LittleEndian.Uint32(b[12:])),
		TriggerOutEnable:        b[16] != 0,
		TriggerOutDelayUsec:     int32(binary.LittleEndian.Uint32(b[20:])),
		FramesPerTrigger:        int32(binary.LittleEndian.Uint32(b[24:])),
	}
	return nil
}

// MarshalText encodes the mode name so configs read naturally in YAML.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode name.
func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
