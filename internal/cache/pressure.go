package cache

import "fmt"

// PressureLevel is the coarse memory pressure reported by the host.
type PressureLevel int

const (
	// PressureMild means the UI is hidden but the process is still foreground.
	PressureMild PressureLevel = iota + 1
	// PressureModerate means the process moved to the background.
	PressureModerate
	// PressureSevere means the system is low on memory or the process may be killed.
	PressureSevere
)

// Grace returns the number of unused bitmaps each bucket keeps at this level.
// The second result is false for unrecognized levels.
func (p PressureLevel) Grace() (int, bool) {
	switch p {
	case PressureMild:
		return 3, true
	case PressureModerate:
		return 1, true
	case PressureSevere:
		return 0, true
	default:
		return 0, false
	}
}

func (p PressureLevel) String() string {
	switch p {
	case PressureMild:
		return "mild"
	case PressureModerate:
		return "moderate"
	case PressureSevere:
		return "severe"
	default:
		return fmt.Sprintf("pressure(%d)", int(p))
	}
}

// ParsePressureLevel converts a level name into a PressureLevel.
func ParsePressureLevel(s string) (PressureLevel, error) {
	switch s {
	case "mild":
		return PressureMild, nil
	case "moderate":
		return PressureModerate, nil
	case "severe":
		return PressureSevere, nil
	default:
		return 0, fmt.Errorf("unknown pressure level %q", s)
	}
}

// HostTrimLevel is a numeric trim-memory level as delivered by the host toolkit.
type HostTrimLevel int

// Host trim levels.
const (
	TrimMemoryRunningModerate HostTrimLevel = 5
	TrimMemoryRunningLow      HostTrimLevel = 10
	TrimMemoryRunningCritical HostTrimLevel = 15
	TrimMemoryUIHidden        HostTrimLevel = 20
	TrimMemoryBackground      HostTrimLevel = 40
	TrimMemoryModerate        HostTrimLevel = 60
	TrimMemoryComplete        HostTrimLevel = 80
)

// Pressure maps a host level onto a PressureLevel. Unknown levels return false.
func (l HostTrimLevel) Pressure() (PressureLevel, bool) {
	switch l {
	case TrimMemoryUIHidden:
		return PressureMild, true
	case TrimMemoryBackground:
		return PressureModerate, true
	case TrimMemoryModerate, TrimMemoryRunningModerate, TrimMemoryRunningLow,
		TrimMemoryRunningCritical, TrimMemoryComplete:
		return PressureSevere, true
	default:
		return 0, false
	}
}
