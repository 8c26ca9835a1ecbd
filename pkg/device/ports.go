package device

import (
	"context"

	"github.com/depthkit/devcore/pkg/frame"
	"github.com/depthkit/devcore/pkg/property"
	"github.com/depthkit/devcore/pkg/version"
)

// Connection types.
const (
	ConnectionUSB  = "USB"
	ConnectionGMSL = "GMSL2"
	ConnectionNet  = "Ethernet"
)

// Info identifies one connected device.
type Info struct {
	Name           string
	PID            uint16
	Serial         string
	Firmware       version.Firmware
	ConnectionType string
}

// IsGMSL reports whether the device is attached over GMSL.
func (i Info) IsGMSL() bool {
	return i.ConnectionType == ConnectionGMSL
}

// MaxChunkSize returns the vendor transfer limit of the connection.
func (i Info) MaxChunkSize() int {
	if i.IsGMSL() {
		return property.GMSLMaxChunkSize
	}
	return property.DefaultMaxChunkSize
}

// StreamPort delivers the frames of one sensor. deliver is called on the
// port's own goroutine, one frame at a time.
type StreamPort interface {
	StartStream(ctx context.Context, fps uint32, deliver func(*frame.VideoFrame)) error
	StopStream() error
}

// PortProvider opens the transport ports of a device. It is implemented
// outside the core.
type PortProvider interface {
	VendorPort() (property.VendorPort, error)
	StreamPort(sensor frame.SensorType) (StreamPort, error)
}
