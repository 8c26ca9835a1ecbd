package property

import (
	"context"
	"errors"
	"fmt"

	"github.com/depthkit/devcore/pkg/fault"
)

// Vendor transfer limits.
const (
	// DefaultMaxChunkSize is the raw data chunk size for USB ports.
	DefaultMaxChunkSize = 4096

	// GMSLMaxChunkSize is the command payload limit of GMSL ports.
	GMSLMaxChunkSize = 232
)

// ErrShortRead is returned when a port returns no data before the end of a
// raw data transfer.
var ErrShortRead = errors.New("short raw data read")

// VendorPort is the vendor command channel of a device transport. It is
// implemented outside the core (USB, network, simulated).
type VendorPort interface {
	GetProperty(ctx context.Context, id ID) (Value, error)
	SetProperty(ctx context.Context, id ID, v Value) error
	GetPropertyRange(ctx context.Context, id ID) (Range, error)
	GetStructure(ctx context.Context, id ID) ([]byte, error)
	SetStructure(ctx context.Context, id ID, data []byte) error

	// RawDataSize returns the length of a raw data blob.
	RawDataSize(ctx context.Context, id ID) (int, error)

	// ReadRawData reads up to size bytes of a raw data blob at offset.
	ReadRawData(ctx context.Context, id ID, offset, size int) ([]byte, error)
}

// VendorAccessor forwards property operations to a VendorPort. Port
// failures without a kind are reported as TransientIO.
type VendorAccessor struct {
	port         VendorPort
	maxChunkSize int
}

// NewVendorAccessor creates an accessor over port. maxChunkSize bounds
// structure writes and raw data reads; zero selects DefaultMaxChunkSize.
func NewVendorAccessor(port VendorPort, maxChunkSize int) *VendorAccessor {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}
	return &VendorAccessor{port: port, maxChunkSize: maxChunkSize}
}

// MaxChunkSize returns the transfer size limit.
func (a *VendorAccessor) MaxChunkSize() int { return a.maxChunkSize }

func (a *VendorAccessor) GetValue(ctx context.Context, id ID) (Value, error) {
	v, err := a.port.GetProperty(ctx, id)
	return v, portError("GetProperty", id, err)
}

func (a *VendorAccessor) SetValue(ctx context.Context, id ID, v Value) error {
	return portError("SetProperty", id, a.port.SetProperty(ctx, id, v))
}

func (a *VendorAccessor) GetRange(ctx context.Context, id ID) (Range, error) {
	r, err := a.port.GetPropertyRange(ctx, id)
	return r, portError("GetPropertyRange", id, err)
}

func (a *VendorAccessor) GetStructure(ctx context.Context, id ID) ([]byte, error) {
	data, err := a.port.GetStructure(ctx, id)
	return data, portError("GetStructure", id, err)
}

func (a *VendorAccessor) SetStructure(ctx context.Context, id ID, data []byte) error {
	if len(data) > a.maxChunkSize {
		return fault.Configf("SetStructure", id.String(), "structure is %d bytes, port limit is %d", len(data), a.maxChunkSize)
	}
	return portError("SetStructure", id, a.port.SetStructure(ctx, id, data))
}

// GetRawData reads the blob in chunks of at most MaxChunkSize bytes.
func (a *VendorAccessor) GetRawData(ctx context.Context, id ID, sink ChunkSink) error {
	total, err := a.port.RawDataSize(ctx, id)
	if err != nil {
		return portError("RawDataSize", id, err)
	}

	for off := 0; off < total; {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(a.maxChunkSize, total-off)
		data, err := a.port.ReadRawData(ctx, id, off, n)
		if err != nil {
			return portError("ReadRawData", id, err)
		}
		if len(data) == 0 {
			return fault.Transient("ReadRawData", fmt.Errorf("%w: %s at %d/%d", ErrShortRead, id, off, total))
		}
		if len(data) > n {
			data = data[:n]
		}
		if err := sink(Chunk{Data: data, Offset: off, Total: total}); err != nil {
			return err
		}
		off += len(data)
	}
	return nil
}

func portError(op string, id ID, err error) error {
	if err == nil {
		return nil
	}
	if fault.KindOf(err) != fault.KindUnknown || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fault.New(fault.KindTransientIO, op, id.String(), err)
}

var (
	_ ValueGetter     = (*VendorAccessor)(nil)
	_ ValueSetter     = (*VendorAccessor)(nil)
	_ RangeGetter     = (*VendorAccessor)(nil)
	_ StructureGetter = (*VendorAccessor)(nil)
	_ StructureSetter = (*VendorAccessor)(nil)
	_ RawDataGetter   = (*VendorAccessor)(nil)
)
