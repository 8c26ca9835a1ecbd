// Package version provides firmware version parsing and comparison.
package version

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Firmware is a parsed "major.minor.patch" firmware version.
type Firmware struct {
	Major uint16
	Minor uint16
	Patch uint16
}

// Parse parses a firmware version string. A leading "v" and trailing
// build suffixes after a dash ("1.4.60-beta") are ignored.
func Parse(s string) (Firmware, error) {
	t := strings.TrimPrefix(strings.TrimSpace(s), "v")
	if i := strings.IndexByte(t, '-'); i >= 0 {
		t = t[:i]
	}
	parts := strings.Split(t, ".")
	if len(parts) != 3 {
		return Firmware{}, fmt.Errorf("invalid firmware version %q: expected major.minor.patch", s)
	}

	var nums [3]uint16
	for i, p := range parts {
		if p == "" {
			return Firmware{}, fmt.Errorf("invalid firmware version %q: empty component", s)
		}
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Firmware{}, fmt.Errorf("invalid firmware version %q: bad component %q", s, p)
		}
		nums[i] = uint16(n)
	}
	if nums[1] > 99 || nums[2] > 99 {
		return Firmware{}, fmt.Errorf("invalid firmware version %q: minor and patch must be below 100", s)
	}
	return Firmware{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// MustParse is like Parse but panics on error. For tables and tests.
func MustParse(s string) Firmware {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromInt converts the integer form back into a Firmware.
func FromInt(n int) Firmware {
	return Firmware{Major: uint16(n / 10000), Minor: uint16(n / 100 % 100), Patch: uint16(n % 100)}
}

// String returns the version as "major.minor.patch".
func (v Firmware) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Int returns the integer form used in feature tables: 1.4.60 is 10460.
func (v Firmware) Int() int {
	return int(v.Major)*10000 + int(v.Minor)*100 + int(v.Patch)
}

// IsZero reports whether v is unset.
func (v Firmware) IsZero() bool {
	return v == Firmware{}
}

// Compare returns -1, 0 or 1.
func (v Firmware) Compare(other Firmware) int {
	a, b := v.Int(), other.Int()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether v >= other.
func (v Firmware) AtLeast(other Firmware) bool {
	return v.Compare(other) >= 0
}

// UnmarshalYAML accepts "1.4.60" or the integer form 10460.
func (v *Firmware) UnmarshalYAML(node *yaml.Node) error {
	if n, err := strconv.Atoi(node.Value); err == nil {
		*v = FromInt(n)
		return nil
	}
	parsed, err := Parse(node.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalText encodes the dotted form.
func (v Firmware) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Range is a firmware interval. Zero bounds are open.
type Range struct {
	// Min is inclusive.
	Min Firmware `yaml:"min_firmware"`

	// Max is exclusive.
	Max Firmware `yaml:"max_firmware"`
}

// Contains reports whether v falls in the range.
func (r Range) Contains(v Firmware) bool {
	if !r.Min.IsZero() && v.Compare(r.Min) < 0 {
		return false
	}
	if !r.Max.IsZero() && v.Compare(r.Max) >= 0 {
		return false
	}
	return true
}

// String returns the range in interval notation.
func (r Range) String() string {
	lo, hi := "-", "-"
	if !r.Min.IsZero() {
		lo = r.Min.String()
	}
	if !r.Max.IsZero() {
		hi = r.Max.String()
	}
	return "[" + lo + ", " + hi + ")"
}
