package audioio

import "math"

// levelGain scales mean amplitude so ordinary speech lands well inside 0..1.
const levelGain = 4

// Level returns the normalized volume of samples in [0, 1]:
// min(mean|s| / 32768 * 4, 1).
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return math.Min(sum/float64(len(samples))/32768*levelGain, 1)
}
