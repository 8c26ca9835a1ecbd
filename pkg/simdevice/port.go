package simdevice

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/depthkit/devcore/pkg/clock"
	"github.com/depthkit/devcore/pkg/fault"
	"github.com/depthkit/devcore/pkg/property"
	"github.com/depthkit/devcore/pkg/syncconfig"
)

// Call records one vendor command received by a Port.
type Call struct {
	Op string
	ID property.ID
}

// Port is a simulated vendor command channel. It keeps a property table and
// a device clock that runs at a configurable drift against the host clock.
type Port struct {
	clk clock.Clock

	mu       sync.Mutex
	values   map[property.ID]property.Value
	ranges   map[property.ID]property.Range
	structs  map[property.ID][]byte
	raw      map[property.ID][]byte
	failures map[property.ID]*failure
	calls    []Call
	latency  time.Duration
	triggers int

	// Device clock: devBase at hostRef, advancing at 1+driftPPM/1e6.
	devBase  uint64
	hostRef  time.Time
	driftPPM float64
}

type failure struct {
	err   error
	count int // remaining; < 1 fails forever
}

// NewPort creates an empty port whose device clock starts at zero.
func NewPort(clk clock.Clock) *Port {
	if clk == nil {
		clk = clock.RealClock{}
	}
	p := &Port{
		clk:      clk,
		values:   make(map[property.ID]property.Value),
		ranges:   make(map[property.ID]property.Range),
		structs:  make(map[property.ID][]byte),
		raw:      make(map[property.ID][]byte),
		failures: make(map[property.ID]*failure),
		hostRef:  clk.Now(),
	}
	cfg, _ := syncconfig.DefaultConfig().MarshalBinary()
	p.structs[property.MultiDeviceSyncConfigStruct] = cfg
	return p
}

// Define adds a scalar property with its range. The current value is the
// range default.
func (p *Port) Define(id property.ID, r property.Range) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ranges[id] = r
	p.values[id] = r.Default
}

// StoreStructure stores a structure property.
func (p *Port) StoreStructure(id property.ID, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.structs[id] = append([]byte(nil), data...)
}

// StoreRaw stores a raw data blob.
func (p *Port) StoreRaw(id property.ID, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.raw[id] = append([]byte(nil), data...)
}

// Value returns the current value of a scalar property.
func (p *Port) Value(id property.ID) (property.Value, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.values[id]
	return v, ok
}

// Structure returns the stored bytes of a structure property.
func (p *Port) Structure(id property.ID) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.structs[id]...)
}

// Fail makes the next count commands on id return err. A count below one
// fails until Recover.
func (p *Port) Fail(id property.ID, err error, count int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[id] = &failure{err: err, count: count}
}

// Recover clears injected failures on id.
func (p *Port) Recover(id property.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failures, id)
}

// SetLatency sets the simulated command round trip.
func (p *Port) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency = d
}

// SetDrift sets the device clock drift in parts per million. The device
// clock is rebased so the current reading is continuous.
func (p *Port) SetDrift(ppm float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebase(p.deviceNow())
	p.driftPPM = ppm
}

// SetDeviceClock jumps the device clock to usec.
func (p *Port) SetDeviceClock(usec uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rebase(usec)
}

// DeviceTimeUsec returns the current device clock.
func (p *Port) DeviceTimeUsec() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deviceNow()
}

// Triggers returns the number of software triggers received.
func (p *Port) Triggers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.triggers
}

// Calls returns the commands received so far.
func (p *Port) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CountCalls returns how many commands matched op and id.
func (p *Port) CountCalls(op string, id property.ID) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Op == op && c.ID == id {
			n++
		}
	}
	return n
}

func (p *Port) deviceNow() uint64 {
	elapsed := p.clk.Now().Sub(p.hostRef).Microseconds()
	scaled := float64(elapsed) * (1 + p.driftPPM/1e6)
	if scaled < 0 && uint64(math.Round(-scaled)) > p.devBase {
		return 0
	}
	return uint64(int64(p.devBase) + int64(math.Round(scaled)))
}

func (p *Port) rebase(usec uint64) {
	p.devBase = usec
	p.hostRef = p.clk.Now()
}

// begin records the call, applies an injected failure and simulates the
// command latency. It is called with mu held and returns with mu held.
func (p *Port) begin(op string, id property.ID) error {
	p.calls = append(p.calls, Call{Op: op, ID: id})
	if f, ok := p.failures[id]; ok {
		if f.count > 0 {
			f.count--
			if f.count == 0 {
				delete(p.failures, id)
			}
		}
		return f.err
	}
	if d := p.latency; d > 0 {
		p.mu.Unlock()
		p.clk.Sleep(d)
		p.mu.Lock()
	}
	return nil
}

func unsupported(op string, id property.ID) error {
	return fault.New(fault.KindUnsupportedProperty, op, id.String(), nil)
}

// GetProperty implements property.VendorPort.
func (p *Port) GetProperty(_ context.Context, id property.ID) (property.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("GetProperty", id); err != nil {
		return property.Value{}, err
	}
	v, ok := p.values[id]
	if !ok {
		return property.Value{}, unsupported("GetProperty", id)
	}
	return v, nil
}

// SetProperty implements property.VendorPort.
func (p *Port) SetProperty(_ context.Context, id property.ID, v property.Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("SetProperty", id); err != nil {
		return err
	}
	r, ok := p.ranges[id]
	if !ok {
		return unsupported("SetProperty", id)
	}
	if r != (property.Range{}) && !r.Contains(id.Type(), v) {
		return fault.New(fault.KindConfiguration, "SetProperty", id.String(), nil)
	}
	p.values[id] = v
	if id == property.CaptureImageSignalBool && v.Bool() {
		p.triggers++
	}
	return nil
}

// GetPropertyRange implements property.VendorPort.
func (p *Port) GetPropertyRange(_ context.Context, id property.ID) (property.Range, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("GetPropertyRange", id); err != nil {
		return property.Range{}, err
	}
	r, ok := p.ranges[id]
	if !ok {
		return property.Range{}, unsupported("GetPropertyRange", id)
	}
	r.Current = p.values[id]
	return r, nil
}

// GetStructure implements property.VendorPort. DEVICE_TIME reports the
// device clock and the simulated round trip.
func (p *Port) GetStructure(_ context.Context, id property.ID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("GetStructure", id); err != nil {
		return nil, err
	}
	if id == property.DeviceTimeStruct {
		var buf bytes.Buffer
		dt := property.DeviceTime{TimeUsec: p.deviceNow(), RTTUsec: uint64(p.latency.Microseconds())}
		if err := binary.Write(&buf, binary.LittleEndian, dt); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	data, ok := p.structs[id]
	if !ok {
		return nil, unsupported("GetStructure", id)
	}
	return append([]byte(nil), data...), nil
}

// SetStructure implements property.VendorPort. Writing DEVICE_TIME sets
// the device clock.
func (p *Port) SetStructure(_ context.Context, id property.ID, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("SetStructure", id); err != nil {
		return err
	}
	if id == property.DeviceTimeStruct {
		var dt property.DeviceTime
		if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &dt); err != nil {
			return fault.New(fault.KindConfiguration, "SetStructure", id.String(), err)
		}
		p.rebase(dt.TimeUsec)
		return nil
	}
	if _, ok := p.structs[id]; !ok {
		return unsupported("SetStructure", id)
	}
	p.structs[id] = append([]byte(nil), data...)
	return nil
}

// RawDataSize implements property.VendorPort.
func (p *Port) RawDataSize(_ context.Context, id property.ID) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("RawDataSize", id); err != nil {
		return 0, err
	}
	data, ok := p.raw[id]
	if !ok {
		return 0, unsupported("RawDataSize", id)
	}
	return len(data), nil
}

// ReadRawData implements property.VendorPort.
func (p *Port) ReadRawData(_ context.Context, id property.ID, offset, size int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin("ReadRawData", id); err != nil {
		return nil, err
	}
	data, ok := p.raw[id]
	if !ok {
		return nil, unsupported("ReadRawData", id)
	}
	if offset < 0 || offset > len(data) {
		return nil, fault.New(fault.KindConfiguration, "ReadRawData", id.String(), nil)
	}
	end := min(offset+size, len(data))
	return append([]byte(nil), data[offset:end]...), nil
}

var _ property.VendorPort = (*Port)(nil)
