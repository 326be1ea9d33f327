// Package filter smooths noisy ADC fractions.
package filter

import "math"

// Defaults tuned for a 10-bit ADC sampled every 5 ms.
const (
	DefaultThreshold = 0.02
	DefaultKFast     = 0.5
	DefaultKSlow     = 0.05
	DefaultEdge      = 0.01
)

// Smoother is an adaptive exponential moving average. Moves larger than
// threshold use kFast, smaller ones kSlow. Values within edge of 0 or 1
// snap to the end so the full travel is reachable.
type Smoother struct {
	value  float64
	primed bool

	threshold float64
	kFast     float64
	kSlow     float64
	edge      float64
}

// New returns a smoother with the default parameters.
func New() *Smoother {
	return NewWithParams(DefaultThreshold, DefaultKFast, DefaultKSlow, DefaultEdge)
}

// NewWithParams returns a smoother with custom parameters. Coefficients are
// clamped into (0,1].
func NewWithParams(threshold, kFast, kSlow, edge float64) *Smoother {
	return &Smoother{
		threshold: math.Abs(threshold),
		kFast:     clampCoeff(kFast),
		kSlow:     clampCoeff(kSlow),
		edge:      clamp01(edge),
	}
}

// Update feeds one sample in [0,1]. The first sample after Reset is taken
// as-is.
func (s *Smoother) Update(sample float64) {
	sample = clamp01(sample)
	if !s.primed {
		s.value = sample
		s.primed = true
		return
	}
	k := s.kSlow
	if math.Abs(sample-s.value) > s.threshold {
		k = s.kFast
	}
	s.value += (sample - s.value) * k
}

// Value returns the smoothed fraction, always within [0,1].
func (s *Smoother) Value() float64 {
	switch {
	case s.value <= s.edge:
		return 0
	case s.value >= 1-s.edge:
		return 1
	}
	return s.value
}

// Reset clears the state.
func (s *Smoother) Reset() {
	s.value = 0
	s.primed = false
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return max(0, min(v, 1))
}

func clampCoeff(k float64) float64 {
	if k <= 0 || math.IsNaN(k) {
		return DefaultKSlow
	}
	return min(k, 1)
}
