package audio

import "math"

// Peaks reduces samples to one (min, max) pair per pixel column.
// Column i covers samples [floor(i*spp), max(floor(i*spp)+1, floor((i+1)*spp))).
// Columns past the end of the data are 0/0, as are columns whose range
// produced no value.
func Peaks(samples []float32, width int, samplesPerPixel float64) (mins, maxs []float32) {
	if width <= 0 || len(samples) == 0 {
		return []float32{}, []float32{}
	}

	mins = make([]float32, width)
	maxs = make([]float32, width)

	for i := 0; i < width; i++ {
		lo := float32(1)
		hi := float32(-1)

		start := int(math.Floor(float64(i) * samplesPerPixel))
		end := int(math.Floor(float64(i+1) * samplesPerPixel))
		loopEnd := max(start+1, end)

		if start < 0 || start >= len(samples) {
			continue
		}

		for j := start; j < loopEnd && j < len(samples); j++ {
			v := samples[j]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}

		if lo > hi {
			lo, hi = 0, 0
		}
		mins[i] = lo
		maxs[i] = hi
	}
	return mins, maxs
}
