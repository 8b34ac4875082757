package video

import "math"

// DefaultFPS stands in for a frame rate the container does not report.
const DefaultFPS = 30.0

// SkipInterval returns how many decoded frames make up one sampling step for
// a minimum spacing of interval seconds. An interval of 0 samples every frame.
func SkipInterval(fps, interval float64) int {
	if interval <= 0 {
		return 1
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	n := int(math.Floor(fps * interval))
	if n < 1 {
		return 1
	}
	return n
}

// ShouldSample reports whether the frame at index runs through detection.
func ShouldSample(index, n int) bool {
	if n <= 1 {
		return true
	}
	return index%n == 0
}
