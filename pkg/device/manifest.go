package device

import (
	"embed"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/depthkit/devcore/pkg/frame"
	"github.com/depthkit/devcore/pkg/property"
	"github.com/depthkit/devcore/pkg/syncconfig"
	"github.com/depthkit/devcore/pkg/version"
)

//go:embed models/*.yaml
var modelFS embed.FS

// Accessor kinds a manifest property row can name.
const (
	AccessorVendor          = "vendor"
	AccessorSDK             = "sdk"
	AccessorGlobalTimestamp = "global_timestamp"
)

// Callback actions a manifest can bind to property accesses.
const (
	ActionRefreshExtensionInfo = "refresh_extension_info"
	ActionResetClockFit        = "reset_clock_fit"
)

// Manifest describes one device model: clocks, sensors, sync modes and the
// per-firmware property table.
type Manifest struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	VendorID    uint16   `yaml:"vendor_id"`
	PIDs        []uint16 `yaml:"pids"`

	// DeviceClockHz is the tick rate of the DEVICE_TIME counter.
	DeviceClockHz uint64 `yaml:"device_clock_hz"`

	// FrameClockHz is the tick rate of frame timestamp metadata.
	FrameClockHz uint64 `yaml:"frame_clock_hz"`

	// TimestampField is the metadata field frame timestamps are read from.
	TimestampField string `yaml:"timestamp_field"`

	// TimestampFieldOverrides select another field for some PIDs.
	TimestampFieldOverrides []FieldOverride `yaml:"timestamp_field_overrides"`

	// CounterBits is the width of the raw timestamp counter. Zero means the
	// field is already a full 64-bit value.
	CounterBits uint `yaml:"counter_bits"`

	SyncModes []string       `yaml:"sync_modes"`
	Sensors   []SensorSpec   `yaml:"sensors"`
	Features  []FeatureSpec  `yaml:"features"`
	Aliases   []AliasSpec    `yaml:"aliases"`
	Callbacks []CallbackSpec `yaml:"callbacks"`
}

// FieldOverride maps PIDs to a timestamp field.
type FieldOverride struct {
	PIDs  []uint16 `yaml:"pids"`
	Field string   `yaml:"field"`
}

// SensorSpec describes one sensor of a model.
type SensorSpec struct {
	Type       string `yaml:"type"`
	DefaultFps uint32 `yaml:"default_fps"`
	Port       string `yaml:"port"`

	// AnomalyDetection enables the timestamp anomaly detector. Unset means
	// enabled.
	AnomalyDetection *bool `yaml:"anomaly_detection"`
}

// DetectsAnomalies reports whether the sensor runs the anomaly detector.
func (s SensorSpec) DetectsAnomalies() bool {
	return s.AnomalyDetection == nil || *s.AnomalyDetection
}

// FeatureSpec is one row of the feature table. Its properties are
// registered when the firmware lies within the row's range.
type FeatureSpec struct {
	Name          string `yaml:"name"`
	version.Range `yaml:",inline"`
	Properties    []PropertySpec `yaml:"properties"`
}

// PropertySpec describes one property registration.
type PropertySpec struct {
	Name     string     `yaml:"name"`
	User     string     `yaml:"user"`
	Internal string     `yaml:"internal"`
	Accessor string     `yaml:"accessor"`
	Range    *RangeSpec `yaml:"range"`
}

// RangeSpec is the range of an SDK-side scalar property.
type RangeSpec struct {
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Step    float64 `yaml:"step"`
	Default float64 `yaml:"default"`
}

// AliasSpec makes one property id behave as another. Permissions are the
// target's unless User or Internal is set.
type AliasSpec struct {
	Alias    string  `yaml:"alias"`
	Target   string  `yaml:"target"`
	User     *string `yaml:"user"`
	Internal *string `yaml:"internal"`
}

// CallbackSpec binds an action to reads or writes of properties.
type CallbackSpec struct {
	version.Range `yaml:",inline"`
	Properties    []string `yaml:"properties"`
	On            string   `yaml:"on"`
	Action        string   `yaml:"action"`
}

// Model cache.
var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*Manifest)
)

// LoadModel loads an embedded model manifest by name (e.g. "g330").
func LoadModel(name string) (*Manifest, error) {
	key := strings.ToLower(name)
	cacheMu.RLock()
	if m, ok := cache[key]; ok {
		cacheMu.RUnlock()
		return m, nil
	}
	cacheMu.RUnlock()

	data, err := modelFS.ReadFile("models/" + key + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("model %q not found: %w", name, err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("parsing model %q: %w", name, err)
	}

	cacheMu.Lock()
	cache[key] = m
	cacheMu.Unlock()
	return m, nil
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// AvailableModels returns the names of all embedded model manifests.
func AvailableModels() ([]string, error) {
	entries, err := modelFS.ReadDir("models")
	if err != nil {
		return nil, fmt.Errorf("reading models directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") {
			names = append(names, strings.TrimSuffix(name, ".yaml"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// ModelByPID returns the manifest listing pid.
func ModelByPID(pid uint16) (*Manifest, error) {
	names, err := AvailableModels()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		m, err := LoadModel(name)
		if err != nil {
			return nil, err
		}
		if slices.Contains(m.PIDs, pid) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("no model for pid 0x%04x", pid)
}

// Validate checks that every name in the manifest resolves.
func (m *Manifest) Validate() error {
	var errs []error
	if m.Name == "" {
		errs = append(errs, errors.New("missing model name"))
	}
	if m.DeviceClockHz == 0 || m.FrameClockHz == 0 {
		errs = append(errs, errors.New("clock frequencies must be positive"))
	}
	if m.CounterBits > 64 {
		errs = append(errs, fmt.Errorf("counter_bits %d exceeds 64", m.CounterBits))
	}
	if _, ok := frame.ParseMetadataType(m.TimestampField); !ok {
		errs = append(errs, fmt.Errorf("unknown timestamp field %q", m.TimestampField))
	}
	for _, o := range m.TimestampFieldOverrides {
		if _, ok := frame.ParseMetadataType(o.Field); !ok {
			errs = append(errs, fmt.Errorf("unknown timestamp field %q", o.Field))
		}
	}
	if _, err := m.SupportedModes(); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[frame.SensorType]bool)
	for _, s := range m.Sensors {
		st, ok := frame.ParseSensorType(s.Type)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown sensor type %q", s.Type))
			continue
		}
		if seen[st] {
			errs = append(errs, fmt.Errorf("duplicate sensor %s", st))
		}
		seen[st] = true
	}

	for _, f := range m.Features {
		for _, p := range f.Properties {
			if err := p.validate(); err != nil {
				errs = append(errs, fmt.Errorf("feature %s: %w", f.Name, err))
			}
		}
	}
	for _, a := range m.Aliases {
		if _, err := property.ParseID(a.Alias); err != nil {
			errs = append(errs, fmt.Errorf("alias: %w", err))
		}
		if _, err := property.ParseID(a.Target); err != nil {
			errs = append(errs, fmt.Errorf("alias target: %w", err))
		}
	}
	for _, c := range m.Callbacks {
		if _, err := c.ids(); err != nil {
			errs = append(errs, fmt.Errorf("callback %s: %w", c.Action, err))
		}
		if _, err := c.op(); err != nil {
			errs = append(errs, fmt.Errorf("callback %s: %w", c.Action, err))
		}
		switch c.Action {
		case ActionRefreshExtensionInfo, ActionResetClockFit:
		default:
			errs = append(errs, fmt.Errorf("unknown callback action %q", c.Action))
		}
	}
	return errors.Join(errs...)
}

func (p PropertySpec) validate() error {
	id, err := property.ParseID(p.Name)
	if err != nil {
		return err
	}
	if _, err := property.ParsePermission(p.User); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	if _, err := property.ParsePermission(p.Internal); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	switch p.Accessor {
	case AccessorVendor:
	case AccessorSDK:
		if !id.Type().IsScalar() {
			return fmt.Errorf("%s: sdk accessor needs a scalar property", id)
		}
	case AccessorGlobalTimestamp:
		if id.Type() != property.TypeBool {
			return fmt.Errorf("%s: global_timestamp accessor needs a bool property", id)
		}
	default:
		return fmt.Errorf("%s: unknown accessor %q", id, p.Accessor)
	}
	return nil
}

// ID returns the property id of the row.
func (p PropertySpec) ID() property.ID {
	id, _ := property.ParseID(p.Name)
	return id
}

// PropertyRange converts the row's range for id.
func (p PropertySpec) PropertyRange() property.Range {
	id := p.ID()
	if p.Range == nil {
		if id.Type() == property.TypeBool {
			return property.BoolRange(false)
		}
		return property.Range{}
	}
	conv := func(f float64) property.Value {
		if id.Type() == property.TypeFloat {
			return property.FloatValue(f)
		}
		return property.IntValue(int64(f))
	}
	return property.Range{
		Min:     conv(p.Range.Min),
		Max:     conv(p.Range.Max),
		Step:    conv(p.Range.Step),
		Default: conv(p.Range.Default),
	}
}

func (c CallbackSpec) ids() ([]property.ID, error) {
	ids := make([]property.ID, 0, len(c.Properties))
	for _, name := range c.Properties {
		id, err := property.ParseID(name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c CallbackSpec) op() (property.Op, error) {
	switch c.On {
	case "write":
		return property.OpWrite, nil
	case "read":
		return property.OpRead, nil
	}
	return 0, fmt.Errorf("unknown operation %q", c.On)
}

// SupportedModes returns the sync mode whitelist.
func (m *Manifest) SupportedModes() (syncconfig.ModeSet, error) {
	modes := make([]syncconfig.Mode, 0, len(m.SyncModes))
	for _, name := range m.SyncModes {
		mode, err := syncconfig.ParseMode(name)
		if err != nil {
			return 0, err
		}
		modes = append(modes, mode)
	}
	return syncconfig.NewModeSet(modes...), nil
}

// TimestampFieldFor returns the frame timestamp field used by pid.
func (m *Manifest) TimestampFieldFor(pid uint16) frame.MetadataType {
	name := m.TimestampField
	for _, o := range m.TimestampFieldOverrides {
		if slices.Contains(o.PIDs, pid) {
			name = o.Field
			break
		}
	}
	field, _ := frame.ParseMetadataType(name)
	return field
}

// Sensor returns the spec of sensor type st.
func (m *Manifest) Sensor(st frame.SensorType) (SensorSpec, bool) {
	for _, s := range m.Sensors {
		if t, _ := frame.ParseSensorType(s.Type); t == st {
			return s, true
		}
	}
	return SensorSpec{}, false
}

// SensorTypes returns the sensor types of the model in manifest order.
func (m *Manifest) SensorTypes() []frame.SensorType {
	out := make([]frame.SensorType, 0, len(m.Sensors))
	for _, s := range m.Sensors {
		if t, ok := frame.ParseSensorType(s.Type); ok {
			out = append(out, t)
		}
	}
	return out
}

// PropertiesFor returns the property rows enabled for firmware fw. A later
// row for the same id replaces an earlier one.
func (m *Manifest) PropertiesFor(fw version.Firmware) []PropertySpec {
	var out []PropertySpec
	index := make(map[property.ID]int)
	for _, f := range m.Features {
		if !f.Contains(fw) {
			continue
		}
		for _, p := range f.Properties {
			id := p.ID()
			if i, ok := index[id]; ok {
				out[i] = p
				continue
			}
			index[id] = len(out)
			out = append(out, p)
		}
	}
	return out
}

// CallbacksFor returns the callbacks enabled for firmware fw.
func (m *Manifest) CallbacksFor(fw version.Firmware) []CallbackSpec {
	var out []CallbackSpec
	for _, c := range m.Callbacks {
		if c.Contains(fw) {
			out = append(out, c)
		}
	}
	return out
}
