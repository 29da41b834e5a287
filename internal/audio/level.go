package audio

import (
	"fmt"
	"math"

	"babaphone/internal/core/domain"
)

// Level returns the RMS loudness of frame normalised to [0,1].
func Level(frame Frame) (float64, error) {
	if len(frame) == 0 {
		return 0, fmt.Errorf("%w: empty frame", domain.ErrInvalidArgument)
	}

	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	if sum == 0 {
		return 0, nil
	}

	level := math.Sqrt(sum/float64(len(frame))) / maxSample
	// -32768 is one step louder than full scale
	return math.Min(level, 1), nil
}

// ApplyGain scales frame in place by gain, saturating at the int16 bounds.
func ApplyGain(frame Frame, gain float64) {
	if gain == 1 {
		return
	}
	for i, s := range frame {
		v := math.Round(float64(s) * gain)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		frame[i] = int16(v)
	}
}
