package property

// DeviceTime is the DEVICE_TIME structure: the device clock in microseconds
// and, on reads, the round trip of the command as measured by the device.
type DeviceTime struct {
	TimeUsec uint64
	RTTUsec  uint64
}

// DeviceTemperature is the DEVICE_TEMPERATURE structure in degrees Celsius.
type DeviceTemperature struct {
	CPU       float32
	IR        float32
	LDM       float32
	MainBoard float32
	TEC       float32
	IMU       float32
	IRRight   float32
	ChipTop   float32
	ChipBot   float32
}

// DepthAlgMode is the CURRENT_DEPTH_ALG_MODE structure.
type DepthAlgMode struct {
	Name       [32]byte
	Checksum   [16]byte
	OptionCode uint32
}

// NewDepthAlgMode returns a DepthAlgMode with the given name.
func NewDepthAlgMode(name string, optionCode uint32) DepthAlgMode {
	var m DepthAlgMode
	copy(m.Name[:], name)
	m.OptionCode = optionCode
	return m
}

// ModeName returns the mode name without trailing NUL bytes.
func (m DepthAlgMode) ModeName() string {
	n := 0
	for n < len(m.Name) && m.Name[n] != 0 {
		n++
	}
	return string(m.Name[:n])
}
