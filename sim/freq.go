package sim

import (
	"time"
)

// Freq defines the clock frequency of a simulated domain.
type Freq float64

// Defines the unit of frequency
const (
	Hz  Freq = 1
	KHz Freq = 1e3
	MHz Freq = 1e6
	GHz Freq = 1e9
)

// Period returns the time between two consecutive ticks.
func (f Freq) Period() time.Duration {
	if f <= 0 {
		panic("frequency must be positive")
	}

	return time.Duration(float64(time.Second) / float64(f))
}

// Elapsed converts a number of cycles into the simulated wall time that they
// represent.
func (f Freq) Elapsed(cycles VTimeInCycle) time.Duration {
	if f <= 0 {
		panic("frequency must be positive")
	}

	return time.Duration(float64(cycles) * float64(time.Second) / float64(f))
}

// Seconds converts a number of cycles into seconds.
func (f Freq) Seconds(cycles VTimeInCycle) float64 {
	if f <= 0 {
		panic("frequency must be positive")
	}

	return float64(cycles) / float64(f)
}
