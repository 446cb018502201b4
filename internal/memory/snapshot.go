package memory

import "time"

// Pressure is a coarse classification of how constrained memory is.
type Pressure int

const (
	PressureNormal Pressure = iota
	PressureModerate
	PressureCritical
)

func (p Pressure) String() string {
	switch p {
	case PressureModerate:
		return "moderate"
	case PressureCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Classification thresholds on used percent (0..1).
const (
	criticalUsed = 0.90
	moderateUsed = 0.75
	// safetyMarginMB is kept free on top of any requested allocation.
	safetyMarginMB = 200
)

// Classify derives pressure purely from used percent.
func Classify(usedPercent float64) Pressure {
	switch {
	case usedPercent >= criticalUsed:
		return PressureCritical
	case usedPercent >= moderateUsed:
		return PressureModerate
	default:
		return PressureNormal
	}
}

// Raw holds counters as read from the platform, in MB. Swap fields are zero
// when the device has no swap.
type Raw struct {
	TotalMB     int64
	AvailableMB int64
	SwapTotalMB int64
	SwapFreeMB  int64
}

// Snapshot is an immutable view of system memory at one poll.
type Snapshot struct {
	TotalMB     int64
	AvailableMB int64
	SwapTotalMB int64
	SwapFreeMB  int64
	UsedPercent float64
	Pressure    Pressure
	LowMemory   bool
	TakenAt     time.Time
}

// NewSnapshot computes used percent and pressure from raw counters.
func NewSnapshot(r Raw, at time.Time) Snapshot {
	used := 0.0
	if r.TotalMB > 0 {
		used = 1 - float64(r.AvailableMB)/float64(r.TotalMB)
	}
	if used < 0 {
		used = 0
	}
	p := Classify(used)
	return Snapshot{
		TotalMB:     r.TotalMB,
		AvailableMB: r.AvailableMB,
		SwapTotalMB: r.SwapTotalMB,
		SwapFreeMB:  r.SwapFreeMB,
		UsedPercent: used,
		Pressure:    p,
		LowMemory:   p == PressureCritical,
		TakenAt:     at,
	}
}

// EffectiveAvailableMB weights free swap at half the value of physical RAM.
func (s Snapshot) EffectiveAvailableMB() int64 {
	return s.AvailableMB + s.SwapFreeMB/2
}

// CanAllocateMB reports whether requiredMB fits while keeping the safety margin free.
func (s Snapshot) CanAllocateMB(requiredMB int64) bool {
	return s.EffectiveAvailableMB() > requiredMB+safetyMarginMB
}
