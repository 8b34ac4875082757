// Package smile turns decoded frames into smile candidates and picks a
// temporally diverse subset of them.
package smile

import (
	"image"

	"github.com/nikoclip/nikoclip/internal/oracle"
)

// Box is a face bounding box in pixel coordinates, clamped to the frame.
type Box struct {
	XMin, YMin, XMax, YMax int
}

// boxFromDetection scales a normalised detection to a width x height frame.
func boxFromDetection(d oracle.Detection, width, height int) Box {
	return Box{
		XMin: max(0, int(d.XMin*float64(width))),
		YMin: max(0, int(d.YMin*float64(height))),
		XMax: min(int(d.XMax*float64(width)), width),
		YMax: min(int(d.YMax*float64(height)), height),
	}
}

// Empty reports whether the box covers no pixels.
func (b Box) Empty() bool {
	return b.XMax <= b.XMin || b.YMax <= b.YMin
}

// Area is the pixel area, 0 for an empty box.
func (b Box) Area() int {
	if b.Empty() {
		return 0
	}
	return (b.XMax - b.XMin) * (b.YMax - b.YMin)
}

func (b Box) Rect() image.Rectangle {
	return image.Rect(b.XMin, b.YMin, b.XMax, b.YMax)
}

// Face is a detected face kept for ranking and cropping within one frame.
type Face struct {
	Box        Box
	Confidence float64
}

// Candidate is a frame in which some face smiled above the threshold.
// Frame is an owned copy of the encoded source frame.
type Candidate struct {
	Score     float64
	Timestamp float64
	Frame     []byte
}
