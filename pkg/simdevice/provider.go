package simdevice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/depthkit/devcore/pkg/clock"
	"github.com/depthkit/devcore/pkg/device"
	"github.com/depthkit/devcore/pkg/frame"
	"github.com/depthkit/devcore/pkg/property"
	"github.com/depthkit/devcore/pkg/version"
)

// ErrNotPresent is returned for a sensor the simulated model lacks.
var ErrNotPresent = errors.New("sensor not present")

// ExtensionInfoSize is the length of the simulated
// DEVICE_EXTENSION_INFORMATION blob. It spans several GMSL chunks.
const ExtensionInfoSize = 1000

// Sizes of zero-filled placeholder structures and blobs.
const (
	structSize  = 64
	rawBlobSize = 256
)

// Provider is a simulated device. It implements device.PortProvider.
type Provider struct {
	Info device.Info

	port    *Port
	clk     clock.Clock
	mu      sync.Mutex
	sources map[frame.SensorType]*FrameSource
	failing map[frame.SensorType]error
	vendErr error
}

// New creates a simulated device of model m running firmware fw. Every
// vendor property enabled for fw is defined on the port.
func New(m *device.Manifest, serial string, fw version.Firmware, clk clock.Clock) *Provider {
	if clk == nil {
		clk = clock.RealClock{}
	}
	var pid uint16
	if len(m.PIDs) > 0 {
		pid = m.PIDs[0]
	}
	p := &Provider{
		Info: device.Info{
			Name:           m.Name,
			PID:            pid,
			Serial:         serial,
			Firmware:       fw,
			ConnectionType: device.ConnectionUSB,
		},
		port:    NewPort(clk),
		clk:     clk,
		sources: make(map[frame.SensorType]*FrameSource),
		failing: make(map[frame.SensorType]error),
	}

	for _, ps := range m.PropertiesFor(fw) {
		if ps.Accessor != device.AccessorVendor {
			continue
		}
		id := ps.ID()
		switch id.Type() {
		case property.TypeInt, property.TypeFloat, property.TypeBool:
			p.port.Define(id, ps.PropertyRange())
		case property.TypeRaw:
			if id == property.DeviceExtensionInformationRaw {
				p.port.StoreRaw(id, extensionInfo(m, serial, fw))
			} else {
				p.port.StoreRaw(id, make([]byte, rawBlobSize))
			}
		case property.TypeStruct:
			if id != property.DeviceTimeStruct && id != property.MultiDeviceSyncConfigStruct {
				p.port.StoreStructure(id, make([]byte, structSize))
			}
		}
	}

	field := m.TimestampFieldFor(pid)
	for _, t := range m.SensorTypes() {
		p.sources[t] = NewFrameSource(t, p.port, clk, field, m.CounterBits)
	}
	return p
}

// extensionInfo builds a deterministic blob identifying the device.
func extensionInfo(m *device.Manifest, serial string, fw version.Firmware) []byte {
	head := fmt.Sprintf("{\"model\":%q,\"serial\":%q,\"firmware\":%q}", m.Name, serial, fw.String())
	out := make([]byte, ExtensionInfoSize)
	copy(out, head)
	for i := len(head); i < len(out); i++ {
		out[i] = byte(i)
	}
	return out
}

// Port returns the simulated vendor port.
func (p *Provider) Port() *Port { return p.port }

// Source returns the frame source of sensor t.
func (p *Provider) Source(t frame.SensorType) *FrameSource {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sources[t]
}

// SetConnection changes the reported connection type.
func (p *Provider) SetConnection(ct string) {
	p.Info.ConnectionType = ct
}

// FailSensor makes StreamPort fail for t.
func (p *Provider) FailSensor(t frame.SensorType, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[t] = err
}

// FailVendorPort makes VendorPort fail.
func (p *Provider) FailVendorPort(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vendErr = err
}

// VendorPort implements device.PortProvider.
func (p *Provider) VendorPort() (property.VendorPort, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.vendErr != nil {
		return nil, p.vendErr
	}
	return p.port, nil
}

// StreamPort implements device.PortProvider.
func (p *Provider) StreamPort(t frame.SensorType) (device.StreamPort, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failing[t]; err != nil {
		return nil, err
	}
	s, ok := p.sources[t]
	if !ok {
		return nil, fmt.Errorf("%s: %w", t, ErrNotPresent)
	}
	return s, nil
}

// EmitAll produces one frame on every streaming source.
func (p *Provider) EmitAll() {
	p.mu.Lock()
	sources := make([]*FrameSource, 0, len(p.sources))
	for _, s := range p.sources {
		sources = append(sources, s)
	}
	p.mu.Unlock()
	for _, s := range sources {
		s.Emit()
	}
}

var _ device.PortProvider = (*Provider)(nil)
