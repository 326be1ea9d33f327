// Package clock provides a wrapping microsecond counter for the scheduler.
package clock

import "time"

// Monotonic counts microseconds since it was created. The count wraps at
// 2^32, roughly every 71.6 minutes.
type Monotonic struct {
	origin int64
}

// New returns a clock reading zero now.
func New() *Monotonic {
	return &Monotonic{origin: nowNanos()}
}

// Micros returns the elapsed microseconds truncated to 32 bits.
func (m *Monotonic) Micros() uint32 {
	return uint32((nowNanos() - m.origin) / int64(time.Microsecond))
}
