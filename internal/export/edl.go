package export

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// GenerateEDL lists every scene as an event covering window seconds around
// its timestamp in the source at mediaPath. Events are in chronological order
// and laid end to end on the record side.
func GenerateEDL(scenes []Scene, title, mediaPath string, frameRate, window float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	ordered := make([]Scene, len(scenes))
	copy(ordered, scenes)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seconds < ordered[j].Seconds })

	halfMs := int(math.Round(window * 500))
	recordOffsetMs := 0
	for i, s := range ordered {
		center := int(math.Round(s.Seconds * 1000))
		startMs := max(0, center-halfMs)
		endMs := center + halfMs
		if endMs <= startMs {
			endMs = startMs + int(math.Ceil(1000/float64(fps)))
		}

		srcIn := msToTimecode(startMs, fps)
		srcOut := msToTimecode(endMs, fps)
		recIn := msToTimecode(recordOffsetMs, fps)
		durationMs := endMs - startMs
		recOut := msToTimecode(recordOffsetMs+durationMs, fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, "AX", "V", srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  smile %s (score %.3f)", s.Label, s.Score),
			fmt.Sprintf("* MEDIA PATH:  %s", mediaPath),
		)

		recordOffsetMs += durationMs
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
