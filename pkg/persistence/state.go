package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// DeviceState contains the runtime state of one device.
type DeviceState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Serial identifies the device the state belongs to.
	Serial string `json:"serial"`

	// Model is the device model name.
	Model string `json:"model,omitempty"`

	// Firmware is the firmware version at save time.
	Firmware string `json:"firmware,omitempty"`

	// SyncConfig is the multi-device sync configuration, if one was set.
	SyncConfig *SyncConfigState `json:"sync_config,omitempty"`

	// SoftwareProperties maps SDK-side property names to their values.
	SoftwareProperties map[string]float64 `json:"software_properties,omitempty"`
}

// SyncConfigState mirrors syncconfig.Config for JSON serialization.
type SyncConfigState struct {
	Mode                    string `json:"mode"`
	DepthDelayUsec          int32  `json:"depth_delay_us,omitempty"`
	ColorDelayUsec          int32  `json:"color_delay_us,omitempty"`
	TriggerToImageDelayUsec int32  `json:"trigger_to_image_delay_us,omitempty"`
	TriggerOutEnable        bool   `json:"trigger_out_enable,omitempty"`
	TriggerOutDelayUsec     int32  `json:"trigger_out_delay_us,omitempty"`
	FramesPerTrigger        int32  `json:"frames_per_trigger,omitempty"`
}

// Store manages persistence of device state to a JSON file.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store for the file at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file path.
func (s *Store) Path() string { return s.path }

// Save persists the state. The file is written to a temporary sibling and
// renamed into place.
func (s *Store) Save(state *DeviceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Load reads the state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *Store) Load() (*DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &DeviceState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("state file version %d is newer than supported %d", state.Version, StateVersion)
	}

	return state, nil
}

// Clear removes the state file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
