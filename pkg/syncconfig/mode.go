package syncconfig

import (
	"fmt"
	"slices"
	"strings"
)

// Mode is the multi-device synchronization mode. Values are stable and
// match the device encoding.
type Mode uint32

const (
	// ModeFreeRun streams on the device's own clock with no sync signals.
	ModeFreeRun Mode = 1 << 0

	// ModeStandalone syncs sensors within one device only.
	ModeStandalone Mode = 1 << 1

	// ModePrimary drives sync signals for secondary devices.
	ModePrimary Mode = 1 << 2

	// ModeSecondarySynced follows an external sync signal while keeping the
	// configured frame rate.
	ModeSecondarySynced Mode = 1 << 4

	// ModeSoftwareTriggering captures frames on a host command.
	ModeSoftwareTriggering Mode = 1 << 5

	// ModeHardwareTriggering captures frames on an external trigger signal.
	ModeHardwareTriggering Mode = 1 << 6
)

// modeLegacySecondary is the retired secondary mode. It is never accepted.
const modeLegacySecondary Mode = 1 << 3

var allModes = []Mode{
	ModeFreeRun,
	ModeStandalone,
	ModePrimary,
	ModeSecondarySynced,
	ModeSoftwareTriggering,
	ModeHardwareTriggering,
}

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeFreeRun:
		return "FREE_RUN"
	case ModeStandalone:
		return "STANDALONE"
	case ModePrimary:
		return "PRIMARY"
	case ModeSecondarySynced:
		return "SECONDARY_SYNCED"
	case ModeSoftwareTriggering:
		return "SOFTWARE_TRIGGERING"
	case ModeHardwareTriggering:
		return "HARDWARE_TRIGGERING"
	case modeLegacySecondary:
		return "SECONDARY"
	default:
		return fmt.Sprintf("MODE_0x%X", uint32(m))
	}
}

// IsTriggered reports whether frames arrive on an external or host trigger,
// so frame cadence is irregular.
func (m Mode) IsTriggered() bool {
	return m == ModeSoftwareTriggering || m == ModeHardwareTriggering
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return slices.Contains(allModes, m)
}

// ParseMode parses a mode name, case-insensitively. Dashes and spaces are
// accepted in place of underscores.
func ParseMode(s string) (Mode, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.NewReplacer("-", "_", " ", "_").Replace(name)
	for _, m := range allModes {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown sync mode %q", s)
}

// ModeSet is a bitmask of modes.
type ModeSet uint32

// NewModeSet returns the set containing modes.
func NewModeSet(modes ...Mode) ModeSet {
	var s ModeSet
	for _, m := range modes {
		s |= ModeSet(m)
	}
	return s
}

// AllModes returns the set of every defined mode.
func AllModes() ModeSet {
	return NewModeSet(allModes...)
}

// Contains reports whether m is in the set.
func (s ModeSet) Contains(m Mode) bool {
	return m.Valid() && uint32(s)&uint32(m) != 0
}

// Modes returns the modes in the set in ascending order.
func (s ModeSet) Modes() []Mode {
	var out []Mode
	for _, m := range allModes {
		if s.Contains(m) {
			out = append(out, m)
		}
	}
	return out
}

// String returns the mode names joined with "|".
func (s ModeSet) String() string {
	modes := s.Modes()
	if len(modes) == 0 {
		return "NONE"
	}
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = m.String()
	}
	return strings.Join(names, "|")
}
