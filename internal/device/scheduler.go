package device

// Default tick periods in microseconds.
const (
	DefaultMeasureInterval uint32 = 5000
	DefaultEventInterval   uint32 = 20000
)

// Clock is a free-running microsecond counter that wraps at 2^32.
type Clock interface {
	Micros() uint32
}

// interval gates a periodic task on a wrapping microsecond clock. The
// difference is taken in uint32 so a wrap between ticks needs no special case.
type interval struct {
	period uint32
	last   uint32
}

func (iv *interval) due(now uint32) bool {
	if now-iv.last < iv.period {
		return false
	}
	iv.last = now
	return true
}

// arm makes the next due() call fire regardless of elapsed time.
func (iv *interval) arm(now uint32) {
	iv.last = now - iv.period
}
